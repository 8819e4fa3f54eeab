package cli

import (
	"errors"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
)

// loadSession reads the stored session. A corrupt session file is discarded with a
// warning and the invocation continues unauthenticated.
func (a *App) loadSession() (*api.Session, error) {
	sess, err := a.store.Load()
	if err == nil {
		a.stored = sess
		if sess != nil && sess.Stale {
			log.Debug().Str("server", sess.ServerURL).Msg("stored session is flagged stale")
		}
		return sess, nil
	}

	var corrupt *apperrors.SessionCorruptError
	if !errors.As(err, &corrupt) {
		return nil, err
	}
	a.warn("%v; discarding it", err)
	if err := a.store.Clear(); err != nil {
		return nil, err
	}
	return nil, nil
}

// saveSession persists sess and makes it the dispatcher's session.
func (a *App) saveSession(sess *api.Session) error {
	if err := a.dispatcher.Authenticate(sess); err != nil {
		return err
	}
	if err := a.store.Save(sess); err != nil {
		return err
	}
	a.stored = sess
	return nil
}
