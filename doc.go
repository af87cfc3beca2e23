/*
Package obsrpc is the communication core of a distributed
observatory control system. Every device driver or task runs as
a module; modules find each other by short name, learn which
capability interfaces a peer implements, call its methods through
a typed Proxy, and exchange typed events.

The pieces:

  - iface/ holds the interface catalog: operations with typed
    parameters, defaults and timeout policies, arranged in a
    refinement graph.
  - Comm is the transport-independent hub. GetProxy resolves a
    peer, RegisterEvent and SendEvent move events, and the
    SharedVariableCache replicates named values.
  - Future is the result of a call. The callee may extend the
    caller's patience while the call runs.
  - xmpp/ carries all of this as XEP-0009 style iq stanzas and
    pubsub events over a websocket, with a small Router standing
    in for an XMPP server. local/ connects modules in one process.

A module that serves calls builds a Module, installs handlers
for its operations and hands it to Comm.SetModule before Open:

	m, _ := obsrpc.NewModule("roof", iface.Default, iface.IRoof)
	m.MustHandle("park", func(ctx context.Context, args []any) (any, error) {
		return nil, roof.Park(ctx)
	})
	c := xmpp.NewComm(cfg, nil, nil)
	c.SetModule(m)
	err := c.Open(ctx)

and a client calls it:

	p, err := c.GetProxy(ctx, "roof")
	_, err = p.Execute(ctx, "park").Wait(ctx)
*/
package obsrpc
