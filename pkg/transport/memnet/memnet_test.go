package memnet

import (
	"testing"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

func collect(events *[]transport.StatusEvent) transport.StatusFunc {
	return func(ev transport.StatusEvent) { *events = append(*events, ev) }
}

func TestDialWithoutListenerIsRefused(t *testing.T) {
	n := New()
	var events []transport.StatusEvent

	h, err := n.CreateOutbound("127.0.0.1:9", collect(&events), 1)
	if err != nil {
		t.Fatalf("create outbound: %v", err)
	}
	n.RunPendingCallbacks()

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Conn != h || ev.State != transport.StateProblemDetectedLocally || ev.Token != 1 {
		t.Fatalf("unexpected refusal event: %+v", ev)
	}
}

func TestCreateOutboundRejectsBadAddress(t *testing.T) {
	n := New()
	if _, err := n.CreateOutbound("no-port-here", nil, 0); err == nil {
		t.Fatalf("malformed address accepted")
	}
	if _, err := n.CreateOutbound("host:badport", nil, 0); err == nil {
		t.Fatalf("malformed port accepted")
	}
}

func TestAcceptHandshake(t *testing.T) {
	n := New()
	var srvEvents, cliEvents []transport.StatusEvent

	if _, err := n.CreateListener(5000, collect(&srvEvents), 7); err != nil {
		t.Fatalf("listen: %v", err)
	}
	out, err := n.CreateOutbound("localhost:5000", collect(&cliEvents), 8)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	n.RunPendingCallbacks()
	if len(srvEvents) != 1 || srvEvents[0].State != transport.StateConnecting {
		t.Fatalf("expected Connecting on listener side, got %+v", srvEvents)
	}
	in := srvEvents[0].Conn

	if err := n.Accept(in); err != nil {
		t.Fatalf("accept: %v", err)
	}
	n.RunPendingCallbacks()

	if len(srvEvents) != 2 || srvEvents[1].State != transport.StateConnected {
		t.Fatalf("listener side missed Connected: %+v", srvEvents)
	}
	if len(cliEvents) != 1 || cliEvents[0].State != transport.StateConnected || cliEvents[0].Conn != out {
		t.Fatalf("dialer side missed Connected: %+v", cliEvents)
	}

	// Payloads flow both ways and drains honor the bound.
	for i := 0; i < 3; i++ {
		if err := n.Send(out, []byte{byte(i)}, transport.SendReliable); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	msgs, err := n.DrainInbound(in, 2)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("bounded drain: %d msgs, err %v", len(msgs), err)
	}
	msgs, err = n.DrainInbound(in, 2)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("second drain: %d msgs, err %v", len(msgs), err)
	}
}

func TestCloseNotifiesPeer(t *testing.T) {
	n := New()
	var srvEvents, cliEvents []transport.StatusEvent

	if _, err := n.CreateListener(5001, collect(&srvEvents), 1); err != nil {
		t.Fatalf("listen: %v", err)
	}
	out, _ := n.CreateOutbound("x:5001", collect(&cliEvents), 2)
	n.RunPendingCallbacks()
	in := srvEvents[0].Conn
	if err := n.Accept(in); err != nil {
		t.Fatalf("accept: %v", err)
	}
	n.RunPendingCallbacks()

	n.Close(out, "going away", true)
	n.Close(out, "again", false) // double close is harmless
	n.RunPendingCallbacks()

	last := srvEvents[len(srvEvents)-1]
	if last.Conn != in || last.State != transport.StateClosedByPeer || last.Detail != "going away" {
		t.Fatalf("peer missed ClosedByPeer: %+v", srvEvents)
	}
	if err := n.Send(in, []byte("x"), transport.SendReliable); err == nil {
		t.Fatalf("send succeeded on closed peer link")
	}
}

func TestListenerPortExclusive(t *testing.T) {
	n := New()
	h, err := n.CreateListener(6000, nil, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := n.CreateListener(6000, nil, 0); err == nil {
		t.Fatalf("second listener on same port accepted")
	}
	n.Close(h, "", false)
	if _, err := n.CreateListener(6000, nil, 0); err != nil {
		t.Fatalf("rebind after close: %v", err)
	}
}

func TestInjectedSendFault(t *testing.T) {
	n := New()
	var srvEvents []transport.StatusEvent
	if _, err := n.CreateListener(7000, collect(&srvEvents), 1); err != nil {
		t.Fatalf("listen: %v", err)
	}
	out, _ := n.CreateOutbound("x:7000", nil, 2)
	n.RunPendingCallbacks()
	in := srvEvents[0].Conn
	if err := n.Accept(in); err != nil {
		t.Fatalf("accept: %v", err)
	}
	n.RunPendingCallbacks()

	n.FailSends(out, true)
	if err := n.Send(out, []byte("x"), transport.SendUnreliable); err == nil {
		t.Fatalf("expected injected fault")
	}
	n.FailSends(out, false)
	if err := n.Send(out, []byte("x"), transport.SendUnreliable); err != nil {
		t.Fatalf("send after clearing fault: %v", err)
	}
}
