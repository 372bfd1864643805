package presence

import (
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/presence-chat/domain/chat"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

type published struct {
	topic  string
	kind   string
	roster domain.Roster
}

// recordingPublisher captures every publish call in order.
type recordingPublisher struct {
	mu     sync.Mutex
	frames []published
}

func (p *recordingPublisher) Publish(topic, kind string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, _ := payload.(domain.Roster)
	p.frames = append(p.frames, published{topic: topic, kind: kind, roster: r})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *recordingPublisher) forTopic(topic string) []domain.Roster {
	var out []domain.Roster
	for _, f := range p.all() {
		if f.topic == topic {
			out = append(out, f.roster)
		}
	}
	return out
}

func (p *recordingPublisher) last(topic string) (domain.Roster, bool) {
	rosters := p.forTopic(topic)
	if len(rosters) == 0 {
		return domain.Roster{}, false
	}
	return rosters[len(rosters)-1], true
}

func newTestBridge() (*Bridge, *recordingPublisher) {
	pub := &recordingPublisher{}
	registry := NewRegistry()
	index := NewRoomIndex()
	b := NewBridge(registry, index, NewBroadcaster(registry, index, pub), &mockLogger{})
	return b, pub
}
