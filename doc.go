// Package devsession tracks long-lived, externally spawned processes
// (typically an editor started in extension-development mode) across
// independent invocations of the hosting runtime.
//
// A launch in one invocation and the matching stop in another share no
// memory or handles; they meet through two durable, host-scoped pieces of
// state: a session table and a one-shot signal mailbox per session. The
// root package exposes the high-level façade:
//
//	srv, _ := devsession.New()
//	id, _ := srv.Launch(ctx, &session.LaunchRequest{ResourcePath: "/usr/bin/code", Args: args})
//	resp, _ := srv.WaitFor(ctx, id)
//
// while a second invocation may finish the session with srv.StopByID(ctx, id)
// or srv.StopCurrent(ctx). See the individual sub-packages for the store,
// signal channel, process controller and completion coordinator layers.
package devsession
