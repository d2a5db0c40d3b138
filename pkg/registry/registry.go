// Package registry holds the scheduler's static set of agents and the
// round-robin cursor placement walks.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qsdk"
	"github.com/spf13/viper"
)

const DefaultProbeTimeout = time.Second

// Agent identifies one worker.
type Agent struct {
	Name string `mapstructure:"name" json:"name"`
	URL  string `mapstructure:"url" json:"url"`
}

// Prober asks an agent for its free capacity.
type Prober interface {
	Probe(ctx context.Context, agent Agent) (qres.Capacity, error)
}

// HTTPProber probes agents over their /status endpoint.
type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context, agent Agent) (qres.Capacity, error) {
	st, err := qsdk.NewAgentClient(agent.URL, qsdk.WithHTTPClient(p.Client), qsdk.WithTimeout(0)).Status(ctx)
	if err != nil {
		return qres.Capacity{}, err
	}
	return st.Capacity(), nil
}

type Registry struct {
	prober       Prober
	probeTimeout time.Duration
	logger       *qlog.Logger

	mu     sync.Mutex
	agents []Agent
	cursor int
}

type Option func(*Registry)

func WithProber(p Prober) Option {
	return func(r *Registry) {
		r.prober = p
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

func WithLogger(logger *qlog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func New(agents []Agent, opts ...Option) *Registry {
	r := &Registry{
		prober:       HTTPProber{Client: http.DefaultClient},
		probeTimeout: DefaultProbeTimeout,
		logger:       qlog.Discard(),
		agents:       append([]Agent(nil), agents...),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Agents returns the agents in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Agent(nil), r.agents...)
}

// Next returns the agent under the cursor and advances it, wrapping around.
// ok is false when the registry is empty.
func (r *Registry) Next() (agent Agent, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) == 0 {
		return Agent{}, false
	}
	agent = r.agents[r.cursor%len(r.agents)]
	r.cursor = (r.cursor + 1) % len(r.agents)
	return agent, true
}

// Rotation returns every agent once, starting at the cursor, and advances
// the cursor past the first of them. Callers that walk further call Advance
// for each extra agent they visit.
func (r *Registry) Rotation() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.agents)
	if n == 0 {
		return nil
	}
	out := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.agents[(r.cursor+i)%n])
	}
	r.cursor = (r.cursor + 1) % n
	return out
}

// Advance moves the cursor forward by n positions.
func (r *Registry) Advance(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) == 0 || n <= 0 {
		return
	}
	r.cursor = (r.cursor + n) % len(r.agents)
}

// Probe queries an agent's capacity with the probe timeout. Failures are
// logged and reported as ok=false, never returned.
func (r *Registry) Probe(ctx context.Context, agent Agent) (qres.Capacity, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	c, err := r.prober.Probe(ctx, agent)
	if err != nil {
		r.logger.Warn("agent unreachable", "agent", agent.Name, "url", agent.URL, "error", err)
		return qres.Capacity{}, false
	}
	return c, true
}

// ParseAgents parses "name=url" entries. A bare URL is named after its host.
func ParseAgents(entries []string) ([]Agent, error) {
	agents := make([]Agent, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		var a Agent
		if name, rawURL, found := strings.Cut(entry, "="); found {
			a = Agent{Name: strings.TrimSpace(name), URL: strings.TrimSpace(rawURL)}
		} else {
			a = Agent{URL: entry}
		}
		if err := a.normalize(); err != nil {
			return nil, err
		}
		if _, dup := seen[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		agents = append(agents, a)
	}
	return agents, nil
}

// LoadAgentsFile reads agents from a YAML/JSON/TOML file of the form
//
//	agents:
//	  - name: worker1
//	    url: http://10.0.0.1:5000
func LoadAgentsFile(path string) ([]Agent, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading agents file %s: %w", path, err)
	}

	var file struct {
		Agents []Agent `mapstructure:"agents"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("parsing agents file %s: %w", path, err)
	}

	seen := make(map[string]struct{})
	for i := range file.Agents {
		if err := file.Agents[i].normalize(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := seen[file.Agents[i].Name]; dup {
			return nil, fmt.Errorf("%s: duplicate agent name %q", path, file.Agents[i].Name)
		}
		seen[file.Agents[i].Name] = struct{}{}
	}
	return file.Agents, nil
}

func (a *Agent) normalize() error {
	if a.URL == "" {
		return fmt.Errorf("agent %q has no url", a.Name)
	}
	a.URL = qsdk.NormalizeHost(a.URL)
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("agent %q: invalid url %q", a.Name, a.URL)
	}
	if a.Name == "" {
		a.Name = u.Host
	}
	return nil
}
