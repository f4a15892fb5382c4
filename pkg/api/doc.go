/*
Package api implements the sdpcontroller gRPC API server and its HTTP health
endpoints.

The API is the only way into the lifecycle manager from outside the process.
A front-end (the observatory's control GUI, or the sdpcontroller CLI) uses it
to activate and deactivate subarrays and to ask what they are doing.

# Architecture

	┌──────────────────── CLIENT (CLI / front-end) ──────────────┐
	│                  pkg/client                                 │
	└───────────────┬─────────────────────────────┬──────────────┘
	                │ gRPC, TCP (apiAddr)          │ gRPC, unix socket
	                │ all methods                  │ Status, List, Events
	┌───────────────▼─────────────────────────────▼──────────────┐
	│                   Server (pkg/api)                          │
	│  MetricsInterceptor        ReadOnlyInterceptor              │
	│  error → code + sdp-reason trailer                          │
	└───────────────┬─────────────────────────────┬──────────────┘
	                │                             │ Subscribe
	┌───────────────▼──────────────┐   ┌──────────▼──────────────┐
	│       Lifecycle Manager       │──▶│      Event Broker        │
	└──────────────────────────────┘   └─────────────────────────┘

# gRPC Methods

Service sdpcontroller.v1.PipelineController. Messages are protobuf
well-known types, so no generated code is needed on either side:

	Activate(StringValue subarray)   → StringValue instance ID
	Deactivate(StringValue subarray) → Empty
	Status(StringValue subarray)     → Struct (StatusReport as JSON)
	List(Empty)                      → Struct (Overview: receptors, subarrays)
	Events(Empty)                    → stream Struct (lifecycle events)

The standard grpc.health.v1 service is registered on both listeners.

# Errors

Every failed call carries its reason code in the sdp-reason trailer, and the
gRPC code follows from it:

	NotFound           → NotFound
	AlreadyActive      → AlreadyExists
	ReceptorConflict   → FailedPrecondition
	ResourceExhausted  → ResourceExhausted
	Invalid            → InvalidArgument
	DispatchError      → Unavailable
	Timeout            → DeadlineExceeded
	anything else      → Internal

A front-end only needs the reason to decide between "pick another subarray",
"wait, the receptors are busy" and "something is broken".

# Health Endpoints

HealthServer serves plain HTTP next to the gRPC port:

	/health   process is up, with version
	/ready    lifecycle manager present and store, engine and api reported healthy
	/live     liveness with uptime
	/metrics  Prometheus metrics

# Usage

	srv := api.NewServer(mgr, broker)
	go srv.Start(cfg.Server.APIAddr)
	go srv.StartUnix(cfg.Server.SocketPath)
	defer srv.Stop()

	hs := api.NewHealthServer(mgr)
	go hs.Start(cfg.Server.HealthAddr)
	defer hs.Shutdown(context.Background())
*/
package api
