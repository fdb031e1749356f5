package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/lifecycle"
	"example.com/pagepulse/internal/page"
)

// Tracker is the part of the tracker service a script can reach.
type Tracker interface {
	lifecycle.Core
	GrantConsent()
	RevokeConsent()
}

type Runner struct {
	Tracker Tracker
	Page    *lifecycle.Page
	State   *page.State
	Network *Network
	Log     zerolog.Logger

	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run applies steps in order and stops at the first error or when ctx ends.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.apply(ctx, st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, st Step) error {
	r.Log.Debug().Str("op", st.Op).Msg("step")

	switch st.Op {
	case OpLoad:
		r.State.SetURL(st.URL)
		r.State.SetTitle(st.Title)
		r.State.SetReferrer(st.Referrer)
		r.Page.Load()
	case OpRoute:
		r.State.SetURL(st.URL)
		if st.Title != "" {
			r.State.SetTitle(st.Title)
		}
		r.State.SetScroll(0, 0)
		r.Page.RouteChanged()
	case OpClick:
		r.Page.Click(st.Target, st.Data)
	case OpScroll:
		if st.DocumentHeight > 0 {
			r.State.SetDocumentHeight(st.DocumentHeight)
		}
		r.State.SetScroll(st.X, st.Y)
		r.Page.Scrolled()
	case OpError:
		r.Page.Error(st.Message, st.Source, st.Line)
	case OpHidden:
		r.Page.VisibilityChanged(true)
	case OpVisible:
		r.Page.VisibilityChanged(false)
	case OpOffline:
		r.Network.SetOffline(true)
	case OpOnline:
		r.Network.SetOffline(false)
		r.Page.Online()
	case OpUnload:
		r.Page.Unload(ctx)
	case OpConsent:
		if st.Grant {
			r.Tracker.GrantConsent()
		} else {
			r.Tracker.RevokeConsent()
		}
	case OpCustom:
		r.Tracker.Enqueue(st.Type, st.Data)
	case OpPerf:
		r.Page.Performance(st.Timings)
	case OpViewport:
		r.State.SetViewport(st.Width, st.Height)
	case OpDNT:
		if st.Value == "" {
			r.State.SetDoNotTrack()
		} else {
			r.State.SetDoNotTrack(st.Value)
		}
	case OpWait:
		return r.sleep(ctx, time.Duration(st.Ms)*time.Millisecond)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
