package rpc

import (
	"context"
	"errors"
	"fmt"

	log "github.com/edgelink/core/pkg/minilog"
)

var (
	ErrNoParent        = errors.New("rpc: node has no parent")
	ErrDuplicateChild  = errors.New("rpc: a child with this name is already attached")
	ErrAlreadyAttached = errors.New("rpc: node already has a parent")
	ErrIDSpaceFull     = errors.New("rpc: no free request id available")
)

// MethodCallback handles a dispatched Request. Returning respond=true
// causes a Response carrying responseParams to be routed back to the
// request's source path with the same id.
type MethodCallback func(n *Node, msg *Message) (respond bool, responseParams []byte)

type methodEntry struct {
	name     string
	callback MethodCallback
}

type inflightRequest struct {
	id       uint16
	response chan *Message
}

// Node is a named node in the RPC routing tree. A Node with parent=nil
// is unattached; otherwise it is owned by exactly one parent, so cycles
// are impossible by construction.
type Node struct {
	name     string
	parent   *Node
	children map[string]*Node

	methods []methodEntry

	inflight  map[uint16]*inflightRequest
	currentID uint16

	isGlobalRoot bool
	isLocalRoot  bool
}

// NewNode constructs an unattached node. Set isGlobalRoot/isLocalRoot on
// the nodes that terminate "/" and "~" addressing respectively -- a tree
// ordinarily has exactly one global root (its true root) and any node
// may additionally serve as a local root for its own subtree.
func NewNode(name string, isGlobalRoot, isLocalRoot bool) *Node {
	return &Node{
		name:         name,
		children:     make(map[string]*Node),
		inflight:     make(map[uint16]*inflightRequest),
		isGlobalRoot: isGlobalRoot,
		isLocalRoot:  isLocalRoot,
	}
}

func (n *Node) Name() string { return n.name }

// Attach makes child a subnode of n. child must currently be unattached.
func (n *Node) Attach(child *Node) error {
	if child.parent != nil {
		return ErrAlreadyAttached
	}
	if _, exists := n.children[child.name]; exists {
		return ErrDuplicateChild
	}
	n.children[child.name] = child
	child.parent = n
	return nil
}

// Detach removes child from n, leaving it unattached.
func (n *Node) Detach(child *Node) {
	if n.children[child.name] == child {
		delete(n.children, child.name)
		child.parent = nil
	}
}

// RegisterMethod adds name to this node's method table. Re-registering
// an existing name replaces its callback.
func (n *Node) RegisterMethod(name string, cb MethodCallback) error {
	if len(name) > MaxMethodNameLen {
		return ErrMethodNameTooLong
	}
	for i, m := range n.methods {
		if m.name == name {
			n.methods[i].callback = cb
			return nil
		}
	}
	n.methods = append(n.methods, methodEntry{name: name, callback: cb})
	return nil
}

func (n *Node) lookupMethod(name string) (MethodCallback, bool) {
	for _, m := range n.methods {
		if m.name == name {
			return m.callback, true
		}
	}
	return nil, false
}

// Send originates msg at n and routes it. Notifications and
// fire-and-forget requests go through here; SendRequestSync wraps this
// for the synchronous case.
func (n *Node) Send(msg *Message) {
	n.routeUpstream(msg)
}

// routeUpstream implements spec section 4.4's upstream mode: it always
// prepends this node's name to the message's source path first (this is
// "every hop up or the first upstream entry"), then inspects the next
// destination component.
//
// Departure from a literal reading of "else: drop" for an unmatched
// named component: dropping immediately would make any destination
// naming something other than a direct child of the very first node
// unroutable, defeating the point of a multi-level tree. Instead, an
// unmatched name continues the search at the parent (widening the
// search exactly the way a directory lookup would), and only drops once
// there is no parent left to ask. See DESIGN.md.
func (n *Node) routeUpstream(msg *Message) {
	msg.SourcePath = prependName(n.name, msg.SourcePath)

	components := splitPath(msg.DestinationPath)
	if len(components) == 0 {
		n.routeDownstream(msg, nil)
		return
	}

	head, rest := components[0], components[1:]

	switch head {
	case parentToken:
		msg.DestinationPath = joinPath(rest)
		if n.parent == nil {
			n.drop(msg, "no parent to satisfy '..'")
			return
		}
		n.parent.routeUpstream(msg)
		return
	case rootToken:
		if n.isGlobalRoot {
			n.routeDownstream(msg, rest)
			return
		}
		if n.parent == nil {
			n.drop(msg, "no parent to reach global root")
			return
		}
		n.parent.routeUpstream(msg)
		return
	case localToken:
		if n.isLocalRoot {
			msg.DestinationPath = joinPath(rest)
			n.routeDownstream(msg, rest)
			return
		}
		if n.parent == nil {
			n.drop(msg, "no parent to reach local root")
			return
		}
		n.parent.routeUpstream(msg)
		return
	default:
		// A component naming this node itself addresses a reply back to
		// where an earlier upstream hop prepended this node's own name
		// to the source path (the common case once a message has
		// climbed all the way to the node serving as the top of a
		// route) -- recognized here rather than only as a parent
		// checking its children, since nothing sits above a route's
		// topmost node to make that match on its behalf.
		if head == n.name {
			n.routeDownstream(msg, rest)
			return
		}
		if child, ok := n.children[head]; ok {
			msg.DestinationPath = joinPath(rest)
			child.routeDownstream(msg, rest)
			return
		}
		if n.parent == nil {
			n.drop(msg, fmt.Sprintf("no node named %q reachable", head))
			return
		}
		n.parent.routeUpstream(msg)
	}
}

// routeDownstream implements spec section 4.4's downstream mode.
// components is the already-consumed-through remaining path at n (nil
// or empty means "arrived").
func (n *Node) routeDownstream(msg *Message, components []string) {
	msg.DestinationPath = joinPath(components)

	if len(components) == 0 {
		n.dispatch(msg)
		return
	}

	head, rest := components[0], components[1:]
	child, ok := n.children[head]
	if !ok {
		n.drop(msg, fmt.Sprintf("no child named %q", head))
		return
	}
	child.routeDownstream(msg, rest)
}

func (n *Node) drop(msg *Message, reason string) {
	log.DebugNamed("rpc", "node %q dropping message dst=%q: %s", n.name, msg.DestinationPath, reason)
}

func (n *Node) dispatch(msg *Message) {
	switch msg.Type {
	case Request:
		cb, ok := n.lookupMethod(msg.MethodName)
		if !ok {
			log.DebugNamed("rpc", "node %q has no method %q", n.name, msg.MethodName)
			return
		}
		respond, responseParams := cb(n, msg)
		if !respond {
			return
		}
		reply := &Message{
			Type:            Response,
			ID:              msg.ID,
			DestinationPath: msg.SourcePath,
			ResponseParams:  responseParams,
		}
		n.Send(reply)
	case Response:
		inflight, ok := n.inflight[msg.ID]
		if !ok {
			log.DebugNamed("rpc", "node %q got response for unknown id %d", n.name, msg.ID)
			return
		}
		inflight.response <- msg
	case Notification:
		// No correlation table; notifications are observation-only. A
		// real deployment would expose a listener hook here; none of
		// this module's engines currently originate one.
	}
}

// InflightCount is the number of SendRequestSync calls currently
// awaiting a matched Response on this node.
func (n *Node) InflightCount() int { return len(n.inflight) }

// nextID returns a fresh id from the node's rolling 1..65535 counter,
// skipping 0 and any id still inflight.
func (n *Node) nextID() (uint16, error) {
	for i := 0; i < 0xFFFF; i++ {
		n.currentID++
		if n.currentID == 0 {
			n.currentID = 1
		}
		if _, busy := n.inflight[n.currentID]; !busy {
			return n.currentID, nil
		}
	}
	return 0, ErrIDSpaceFull
}

// SendRequestSync assigns a fresh id, sends msg, and awaits the matched
// Response (or ctx's deadline). This is the Go rewrite of the spec's
// busy-wait sync RPC call: a buffered channel stands in for the
// completion signal the spec asks rewrites to surface as an await,
// rather than spinning the run loop against a monotonic clock.
func (n *Node) SendRequestSync(ctx context.Context, msg *Message) (*Message, error) {
	id, err := n.nextID()
	if err != nil {
		return nil, err
	}
	msg.Type = Request
	msg.ID = id

	entry := &inflightRequest{id: id, response: make(chan *Message, 1)}
	n.inflight[id] = entry
	defer delete(n.inflight, id)

	n.Send(msg)

	select {
	case resp := <-entry.response:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
