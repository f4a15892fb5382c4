/*
Package argo implements the engine contract on top of Argo Workflows.

Workflows are handled as unstructured objects through the Kubernetes dynamic
client, so the controller does not depend on the Argo Go module. Namespaces
go through the typed core/v1 client.

# Submit

Submit creates the subarray namespace when it is missing, labelled
app.kubernetes.io/managed-by=sdpcontroller plus any configured
NamespaceLabels, then creates the workflow in it. Workflow names are derived
from the subarray and the instance creation time, so an AlreadyExists answer
means an earlier attempt got through and is treated as success. The handle
returned is "namespace/name".

With DryRun set every create is sent with dryRun=All: the API server runs
admission and validation but persists nothing. This is how a new template is
checked against a live cluster.

# Cancel

Cancel sends the same merge patch as `argo terminate`:

	{"spec":{"shutdown":"Terminate"}}

A workflow that is missing, or already Succeeded, Failed or Error, yields
engine.ErrGone, which the manager counts as a completed teardown. Argo then
stops the running pods, daemons included, and moves the workflow to Failed
with spec.shutdown set.

# Watch

Watch runs one cluster-wide watch over workflows carrying the managed-by
label and turns each event into a types.StatusUpdate keyed by the
sdp.kat.ac.za/instance-id label. A dropped watch is re-established with
exponential backoff starting at WatchBackoff, capped at one minute, reset
after a watch that ended cleanly. Events for workflows without an instance
label are dropped.

Phases map onto engine phases as follows:

	Argo phase                        Engine phase
	──────────────────────────────    ────────────
	"", Pending, Running              Running
	Succeeded                         Ended
	Failed/Error, spec.shutdown set   Ended
	Failed/Error, never started       Rejected
	Failed/Error otherwise            Failed
	object deleted                    Ended

# Health

Ping lists at most one managed workflow. It fails when the API server is
unreachable, the credentials are rejected or the Argo CRDs are not
installed, and backs the "engine" health check.

# Usage

	restCfg, err := argo.RESTConfig(kubeconfig)
	if err != nil {
		return err
	}
	client, err := argo.NewForConfig(restCfg, argo.Config{
		NamespaceLabels: map[string]string{"sdp.kat.ac.za/site": "karoo"},
	})
	if err != nil {
		return err
	}
	go client.Watch(ctx, updates)
*/
package argo
