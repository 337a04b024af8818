package rxm

// Cancel searches the untagged and tagged posted-receive queues for an
// entry matching ctx and, if found, removes it and delivers a canceled
// completion in its place (§4.9). Canceling a context that was never
// posted, or has already completed, is not an error: it simply finds
// nothing and returns nil.
func (e *Endpoint) Cancel(ctx Context) error {
	pred := func(r *RecvEntry) bool { return r.ctx == ctx }

	if r, ok := e.untaggedRecv.RemoveFunc(pred); ok {
		e.emitCanceled(r)
		return nil
	}
	if r, ok := e.taggedRecv.RemoveFunc(pred); ok {
		e.emitCanceled(r)
		return nil
	}
	return nil
}
