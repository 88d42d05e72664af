package bot

import (
	"sync"

	"github.com/google/uuid"
	"github.com/xaenox/creator-crew/internal/directive"
)

const maxButtons = 2048

type pendingButton struct {
	userID     string
	affordance directive.Affordance
}

// buttonStore maps short callback tokens to affordances. Telegram caps callback
// data at 64 bytes, so payloads and prompts stay server-side.
type buttonStore struct {
	mu      sync.Mutex
	buttons map[string]pendingButton
	order   []string
}

func newButtonStore() *buttonStore {
	return &buttonStore{buttons: make(map[string]pendingButton)}
}

func (s *buttonStore) put(userID string, a directive.Affordance) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[token] = pendingButton{userID: userID, affordance: a}
	s.order = append(s.order, token)
	for len(s.order) > maxButtons {
		delete(s.buttons, s.order[0])
		s.order = s.order[1:]
	}
	return token
}

// get returns the affordance behind token if it belongs to userID.
func (s *buttonStore) get(userID, token string) (directive.Affordance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buttons[token]
	if !ok || b.userID != userID {
		return directive.Affordance{}, false
	}
	return b.affordance, true
}
