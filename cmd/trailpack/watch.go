package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
	"github.com/trailpack/trailpack/internal/mutation"
)

var errNotSignedIn = errors.New("not signed in, run `trailpack signin` first")

// screen serialises redraws coming from the subscription goroutine.
type screen struct {
	mu    sync.Mutex
	out   io.Writer
	state livesync.State
	coord *mutation.Coordinator
}

func (s *screen) draw(all []lists.EquipmentList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, renderLists(all, s.coord.Submitting))
	fmt.Fprintln(s.out)
}

// setState prints the connection state when it changes.
func (s *screen) setState(st livesync.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == st {
		return false
	}
	s.state = st
	fmt.Fprintln(s.out, renderState(st))
	return true
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow your lists live until interrupted",
		Long: `Open a live subscription to your lists and redraw them whenever they change
on the server. If the connection drops, watch exits with an error; run it again
to resubscribe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			resolveCtx, cancel := a.requestContext(cmd)
			store, st, err := a.sessionStore(resolveCtx)
			cancel()
			if err != nil {
				return err
			}
			defer store.Close()
			if st.Identity == nil {
				return errNotSignedIn
			}

			sub := livesync.New(a.client, a.logger)
			defer sub.Close()
			coord := a.coordinator()
			detach := coord.Attach(sub)
			defer detach()

			scr := &screen{out: cmd.OutOrStdout(), coord: coord, state: livesync.Unsubscribed}
			failed := make(chan error, 1)
			stopState := sub.Subscribe(func(u livesync.Update) {
				if !scr.setState(u.State) {
					return
				}
				switch u.State {
				case livesync.Failed:
					select {
					case failed <- u.Err:
					default:
					}
				case livesync.Unsubscribed:
					select {
					case failed <- errNotSignedIn:
					default:
					}
				}
			})
			defer stopState()
			stopDraw := coord.Subscribe(scr.draw)
			defer stopDraw()

			unfollow := sub.Follow(store)
			defer unfollow()

			select {
			case <-ctx.Done():
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("Stopped watching."))
				return nil
			case err := <-failed:
				return err
			}
		},
	}
}
