/*
Package client is the Go client for the sdpcontroller activation API.

It is what the CLI uses, and what a front-end written in Go would use, to
activate and deactivate subarrays and to query their state. Failed calls
return *Error, which carries the reason code the server attached, so callers
can tell a busy receptor from a missing subarray:

	c, err := client.NewClient("127.0.0.1:8080")
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.Activate("subarray1")
	switch {
	case errors.Is(err, types.ErrReceptorConflict), errors.Is(err, types.ErrResourceExhausted):
		// busy, try later
	case errors.Is(err, types.ErrNotFound):
		// no such subarray
	case err != nil:
		return err
	}

The local unix socket accepts queries only:

	c, err := client.NewClient("unix:///var/run/sdpcontroller.sock")
	report, err := c.Status("subarray1")

Events follows the lifecycle event stream until the context ends:

	err = c.Events(ctx, func(e *events.Event) error {
		fmt.Println(e.Type, e.Subarray, e.Message)
		return nil
	})
*/
package client
