package service

import (
	"context"

	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/topology"
	"github.com/artigo/echolens/internal/wav"
)

// dispatchListener forwards notifications from the event source goroutine onto
// the dispatch loop. Notifications arriving after ctx is done are dropped.
type dispatchListener struct {
	ctx      context.Context
	dispatch chan<- func()
	target   topology.Listener
}

func (d *dispatchListener) OnObjectAdded(ev topology.ObjectAdded) {
	d.send(func() { d.target.OnObjectAdded(ev) })
}

func (d *dispatchListener) OnObjectRemoved(id uint32) {
	d.send(func() { d.target.OnObjectRemoved(id) })
}

func (d *dispatchListener) send(fn func()) {
	select {
	case d.dispatch <- fn:
	case <-d.ctx.Done():
	}
}

func wavFormat(cfg *config.Config) wav.Format {
	return wav.Format{
		Channels:      cfg.Audio.Channels,
		SampleRate:    cfg.Audio.SampleRate,
		BitsPerSample: cfg.Audio.BitsPerSample,
	}
}
