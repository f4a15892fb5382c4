/*
Package config loads the controller's YAML configuration document.

The document names everything the controller is allowed to run: the receptor
pool, the subarrays that draw from it, the pipeline templates, and the
capacities of custom resources such as GPUs. It is read once at startup.
Build validates all of it before anything else starts; a single bad field
stops the process.

	server:    {apiAddr, socketPath, healthAddr, dataDir}
	log:       {level, json}
	lifecycle: {sweepInterval, statusTimeout, submitAttempts, teardownAttempts,
	            teardownEscalation, retryBackoff, maxBackoff, dispatchTimeout,
	            historyLimit}
	argo:      {kubeconfig, serviceAccount, ttlAfterCompletion, dryRun,
	            namespaceLabels}
	ttl:       6000
	receptors: [m000, m001, ...]
	resources: {sdp.kat.ac.za/jellybeans: 1}
	subarrays: [{name, namespace, receptors, template}]
	templates: {<name>: {ttl, components: [...]}}

Durations use Go syntax ("30s", "2m"). A subarray without a template uses
"default". Custom resources that have no entry under resources are not
limited.

Usage:

	cfg, err := config.Load("/etc/sdpcontroller/config.yaml")
	if err != nil {
		return err
	}
	built, err := cfg.Build()
	if err != nil {
		return err
	}
	mgr, err := manager.New(manager.Options{
		Registry:  built.Registry,
		Templates: built.Templates,
		Capacity:  built.Capacity,
		Config:    built.Manager,
		...
	})
*/
package config
