// Package agents holds the catalog of assistant personas.
package agents

import (
	"errors"
	"fmt"

	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/tools"
)

// ErrNotFound is returned when an agent id is not in the registry.
var ErrNotFound = errors.New("agent not found")

// Agent is an immutable persona configuration.
type Agent struct {
	ID             string
	Name           string
	Persona        string
	StarterPrompts []string
	Tools          []models.ToolSpec
	// Integrations are advertised in the UI only.
	Integrations []string
}

type Registry struct {
	agents []Agent
	byID   map[string]int
}

// NewRegistry builds a registry over the given catalog. Later duplicates of an id are ignored.
func NewRegistry(catalog []Agent) *Registry {
	r := &Registry{byID: make(map[string]int, len(catalog))}
	for _, a := range catalog {
		if _, dup := r.byID[a.ID]; dup {
			continue
		}
		r.byID[a.ID] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	return r
}

// Default returns the registry over the built-in catalog.
func Default() *Registry {
	return NewRegistry(Catalog())
}

// List returns agents in catalog order.
func (r *Registry) List() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

func (r *Registry) Find(id string) (Agent, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Agent{}, false
	}
	return r.agents[i], true
}

// Name returns the display name for id, satisfying directive.AgentResolver.
func (r *Registry) Name(id string) (string, bool) {
	a, ok := r.Find(id)
	return a.Name, ok
}

// First returns the agent a new user starts with.
func (r *Registry) First() (Agent, bool) {
	if len(r.agents) == 0 {
		return Agent{}, false
	}
	return r.agents[0], true
}

// ToolLookup resolves a tool declaration by name.
type ToolLookup interface {
	Spec(name string) (models.ToolSpec, bool)
}

// CheckTools verifies that every tool an agent declares is registered in
// lookup, so a model is never offered a tool that has no handler.
func (r *Registry) CheckTools(lookup ToolLookup) error {
	var errs []error
	for _, a := range r.agents {
		for _, spec := range a.Tools {
			if _, ok := lookup.Spec(spec.Name); !ok {
				errs = append(errs, fmt.Errorf("agent %s: tool %q is not registered", a.ID, spec.Name))
			}
		}
	}
	return errors.Join(errs...)
}

const directiveHelp = `
When the user should continue with a teammate, end your reply with
HANDOFF:[agent_id,"the prompt the teammate should answer"]
using one of these ids: visionary (Viral Visionary), writer (Creative Writer), trends (Trend Scout), brands (Brand Matchmaker).
When the user asks you to send or save something, end your reply with
ACTION:[service,"content"]
where service is one of social_post, email, cloud_drive, team_chat.
Use each directive at most once and only when it is useful.`

// Catalog returns the built-in agents.
func Catalog() []Agent {
	return []Agent{
		{
			ID:   "visionary",
			Name: "Viral Visionary",
			Persona: "You are Viral Visionary, a strategist who invents video concepts built to spread. " +
				"Ground ideas in what is already working on YouTube by searching before you suggest formats. " +
				"Give short punchy hooks, a title and a one-line angle for each idea." + directiveHelp,
			StarterPrompts: []string{
				"Give me 5 viral video ideas for my channel",
				"What hooks work best in the first 3 seconds?",
				"Turn my last video topic into a series",
			},
			Tools:        []models.ToolSpec{tools.YouTubeSearchSpec, tools.CurrentDateSpec},
			Integrations: []string{"YouTube", "TikTok"},
		},
		{
			ID:   "writer",
			Name: "Creative Writer",
			Persona: "You are Creative Writer, a scriptwriter for online video. " +
				"Write scripts with a hook, a structured body and a call to action, timed for the requested length. " +
				"Match the creator's voice and keep sentences speakable." + directiveHelp,
			StarterPrompts: []string{
				"Write a 60 second script about my niche",
				"Rewrite this intro to be more engaging",
				"Draft a video description with keywords",
			},
			Tools:        []models.ToolSpec{tools.CurrentDateSpec},
			Integrations: []string{"Google Docs", "Notion"},
		},
		{
			ID:   "trends",
			Name: "Trend Scout",
			Persona: "You are Trend Scout, an analyst who spots rising topics and formats. " +
				"Search for recent videos, compare their engagement and explain why a trend is rising and how long it may last." +
				directiveHelp,
			StarterPrompts: []string{
				"What is trending in my niche this week?",
				"Is this topic still rising or already saturated?",
				"Compare engagement of the top videos on a topic",
			},
			Tools:        []models.ToolSpec{tools.YouTubeSearchSpec, tools.EngagementRateSpec, tools.CurrentDateSpec},
			Integrations: []string{"YouTube", "Google Trends"},
		},
		{
			ID:   "brands",
			Name: "Brand Matchmaker",
			Persona: "You are Brand Matchmaker, a sponsorship advisor. " +
				"Suggest brands that fit the creator's audience, estimate fair rates from engagement and draft outreach emails." +
				directiveHelp,
			StarterPrompts: []string{
				"Which brands would sponsor a channel like mine?",
				"How much should I charge for an integration?",
				"Write a pitch email to a brand",
			},
			Tools:        []models.ToolSpec{tools.EngagementRateSpec},
			Integrations: []string{"Gmail", "Slack"},
		},
	}
}
