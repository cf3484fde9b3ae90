package channel

// mailbox decouples the manager loop from a slow reader: in never blocks for
// long and out delivers in order from an unbounded backlog.
type mailbox struct {
	id  int
	in  chan Event
	out chan Event
}

func newMailbox(id int) *mailbox {
	mb := &mailbox{id: id, in: make(chan Event), out: make(chan Event)}
	go mb.pump()
	return mb
}

func (mb *mailbox) close() { close(mb.in) }

func (mb *mailbox) pump() {
	defer close(mb.out)
	var backlog []Event
	for {
		var out chan Event
		var next Event
		if len(backlog) > 0 {
			out = mb.out
			next = backlog[0]
		}
		select {
		case ev, ok := <-mb.in:
			if !ok {
				return
			}
			backlog = append(backlog, ev)
		case out <- next:
			backlog[0] = nil
			backlog = backlog[1:]
		}
	}
}
