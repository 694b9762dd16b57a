package download

// Observer receives push notifications from a download. OnProgress values
// never decrease and reach exactly 1 only on success. Exactly one of
// OnFinished or OnFailed is called per run.
type Observer interface {
	OnProgress(fraction float64)
	OnFinished()
	OnFailed(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(fraction float64)
	Finished func()
	Failed   func(err error)
}

func (o ObserverFuncs) OnProgress(fraction float64) {
	if o.Progress != nil {
		o.Progress(fraction)
	}
}

func (o ObserverFuncs) OnFinished() {
	if o.Finished != nil {
		o.Finished()
	}
}

func (o ObserverFuncs) OnFailed(err error) {
	if o.Failed != nil {
		o.Failed(err)
	}
}

type nopObserver struct{}

func (nopObserver) OnProgress(float64) {}
func (nopObserver) OnFinished()        {}
func (nopObserver) OnFailed(error)     {}
