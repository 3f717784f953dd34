package frontproxy

import (
	"fmt"
	"os"
	"strings"
)

// TaskKind names one of the four handler kinds a rule can dispatch to.
type TaskKind string

const (
	TaskServeStatic  TaskKind = "serve_static"
	TaskReverseProxy TaskKind = "reverse_proxy"
	TaskLoadBalance  TaskKind = "load_balance"
	TaskHealthCheck  TaskKind = "health_check"
)

// UpstreamSpec is one (host, port[, weight]) entry as it appears in a
// reverse_proxy or load_balance task's context, before the weighted form
// is expanded into ranges.
type UpstreamSpec struct {
	Host   string
	Port   int
	Weight float64
}

// TaskConfig is one entry of the tasks mapping described in the external
// interfaces: a match rule plus the context its handler kind needs.
// Iteration order of the owning Settings.Tasks slice defines match
// precedence, exactly as the match engine requires.
type TaskConfig struct {
	Kind     TaskKind
	Criteria MatchCriteria

	StaticRoot     string
	StaticPrefixes []string
	Strategy       BalanceStrategy
	Upstreams      []UpstreamSpec
}

// Settings is one named configuration a server can be started with: where
// it listens, whether the dashboard is enabled, and the ordered task
// table. ListenHost, ListenPort and DashboardPort fall back to
// setDefaultValues' hardcoded defaults when left zero; Tasks has no
// default because a server with no rules can never route anything, and
// validate rejects an empty Tasks as a missing required field.
type Settings struct {
	ListenHost    string
	ListenPort    int
	DashboardPort int

	Tasks []TaskConfig
}

// Presets is the in-process settings_map: a small integer key to a
// Settings value, the same shape as the original's settings.py module but
// expressed as Go data instead of a parsed file — there is no on-disk
// configuration format in scope (see design notes), only named presets an
// operator selects by key on the command line.
type Presets map[int]*Settings

// DefaultPresets ships a couple of illustrative presets so the CLI has
// something to select between out of the box. Real deployments are
// expected to register their own via RegisterPreset.
var DefaultPresets = Presets{
	1: {
		Tasks: []TaskConfig{
			{
				Kind:     TaskHealthCheck,
				Criteria: MatchCriteria{"url": {"/health/"}},
			},
			{
				Kind:           TaskServeStatic,
				Criteria:       MatchCriteria{"url": {"/static/"}},
				StaticRoot:     "/var/www",
				StaticPrefixes: []string{"/static/"},
			},
		},
	},
	2: {
		Tasks: []TaskConfig{
			{
				Kind:     TaskHealthCheck,
				Criteria: MatchCriteria{"url": {"/health/"}},
			},
			{
				Kind:     TaskLoadBalance,
				Criteria: MatchCriteria{"url": {"/"}},
				Strategy: RoundRobin,
				Upstreams: []UpstreamSpec{
					{Host: "127.0.0.1", Port: 9001},
					{Host: "127.0.0.1", Port: 9002},
				},
			},
		},
	},
}

// RegisterPreset adds or replaces a named settings preset.
func (p Presets) RegisterPreset(key int, s *Settings) {
	p[key] = s
}

// Resolve looks up a preset by key, fills its zero-valued fields with
// setDefaultValues' defaults, checks it with validate, and returns the
// ready-to-use Settings. A missing required field is reported and exits
// the process: a misconfigured preset is an operator mistake to report
// plainly, not an error the caller is expected to recover from.
func (p Presets) Resolve(key int) (*Settings, error) {
	s, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("frontproxy: no settings preset registered for key %d", key)
	}

	setDefaultValues(s)
	validate(s)
	for i := range s.Tasks {
		setDefaultValues(&s.Tasks[i])
	}

	return s, nil
}

// BuildTable constructs the ordered Table a Settings describes,
// instantiating one handler per task in declaration order. stats is wired
// into every load_balance handler so its upstream picks reach the
// dashboard and the CLI's final print; pass nil to build a table that
// doesn't track selections.
func (s *Settings) BuildTable(stats *Stats) (Table, error) {
	table := make(Table, 0, len(s.Tasks))

	for i, t := range s.Tasks {
		h, err := buildHandler(t, stats)
		if err != nil {
			return nil, fmt.Errorf("frontproxy: task %d (%s): %w", i, t.Kind, err)
		}
		table = append(table, Rule{Criteria: t.Criteria, Handler: h})
	}

	return table, nil
}

func buildHandler(t TaskConfig, stats *Stats) (Handler, error) {
	switch t.Kind {
	case TaskHealthCheck:
		return HealthCheckHandler{}, nil

	case TaskServeStatic:
		return NewStaticAssetHandler(t.StaticRoot, t.StaticPrefixes)

	case TaskReverseProxy:
		if len(t.Upstreams) != 1 {
			return nil, fmt.Errorf("reverse_proxy requires exactly one upstream, got %d", len(t.Upstreams))
		}
		u := t.Upstreams[0]
		return &ReverseProxyHandler{Host: u.Host, Port: u.Port}, nil

	case TaskLoadBalance:
		upstreams, err := resolveUpstreams(t)
		if err != nil {
			return nil, err
		}
		h := NewLoadBalancerHandler(t.Strategy, upstreams)
		h.Stats = stats
		return h, nil

	default:
		return nil, fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// BuildAsyncTable is BuildTable's cooperative-strategy counterpart: the
// reverse_proxy and load_balance tasks become AsyncHandlers instead, while
// serve_static and health_check reuse the same synchronous Handler (they
// never suspend, so there's no cooperative variant to build). stats is
// wired into the async load_balance handler exactly as BuildTable wires it
// into the synchronous one.
func (s *Settings) BuildAsyncTable(stats *Stats) (AsyncTable, error) {
	table := make(AsyncTable, 0, len(s.Tasks))

	for i, t := range s.Tasks {
		rule, err := buildAsyncRule(t, stats)
		if err != nil {
			return nil, fmt.Errorf("frontproxy: task %d (%s): %w", i, t.Kind, err)
		}
		table = append(table, rule)
	}

	return table, nil
}

func buildAsyncRule(t TaskConfig, stats *Stats) (AsyncRule, error) {
	switch t.Kind {
	case TaskHealthCheck:
		return AsyncRule{Criteria: t.Criteria, Sync: HealthCheckHandler{}}, nil

	case TaskServeStatic:
		h, err := NewStaticAssetHandler(t.StaticRoot, t.StaticPrefixes)
		if err != nil {
			return AsyncRule{}, err
		}
		return AsyncRule{Criteria: t.Criteria, Sync: h}, nil

	case TaskReverseProxy:
		if len(t.Upstreams) != 1 {
			return AsyncRule{}, fmt.Errorf("reverse_proxy requires exactly one upstream, got %d", len(t.Upstreams))
		}
		u := t.Upstreams[0]
		return AsyncRule{Criteria: t.Criteria, Async: &AsyncReverseProxyHandler{Host: u.Host, Port: u.Port}}, nil

	case TaskLoadBalance:
		upstreams, err := resolveUpstreams(t)
		if err != nil {
			return AsyncRule{}, err
		}
		h := NewAsyncLoadBalancerHandler(t.Strategy, upstreams)
		h.Stats = stats
		return AsyncRule{Criteria: t.Criteria, Async: h}, nil

	default:
		return AsyncRule{}, fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// resolveUpstreams expands a load_balance task's configured upstreams into
// weight ranges when using the weighted strategy; round_robin passes them
// through with Lo/Hi left zero (unused by that strategy).
func resolveUpstreams(t TaskConfig) ([]Upstream, error) {
	if t.Strategy != Weighted {
		out := make([]Upstream, len(t.Upstreams))
		for i, u := range t.Upstreams {
			out[i] = Upstream{Host: u.Host, Port: u.Port}
		}
		return out, nil
	}

	hosts := make([]string, len(t.Upstreams))
	ports := make([]int, len(t.Upstreams))
	weights := make([]float64, len(t.Upstreams))
	total := 0.0
	for i, u := range t.Upstreams {
		hosts[i], ports[i], weights[i] = u.Host, u.Port, u.Weight
		total += u.Weight
	}
	const epsilon = 1e-6
	if total < 1-epsilon || total > 1+epsilon {
		return nil, fmt.Errorf("weighted upstream weights sum to %.6f, want 1.0 ± %.e", total, epsilon)
	}

	return NewWeightedUpstreams(hosts, ports, weights), nil
}

// setDefaultValues fills the zero-valued fields of a Settings or TaskConfig
// that have a meaningful default. Settings and TaskConfig are the only two
// shapes Resolve ever defaults, so rather than walking an arbitrary
// struct's fields through reflection this switches on the concrete type
// and fills exactly the fields each one needs a default for —
// ListenHost/ListenPort/DashboardPort on Settings, Strategy on TaskConfig.
// A type this function doesn't recognize is left untouched.
func setDefaultValues(obj interface{}) {
	switch v := obj.(type) {
	case *Settings:
		if v.ListenHost == "" {
			v.ListenHost = "0.0.0.0"
		}
		if v.ListenPort == 0 {
			v.ListenPort = 9999
		}
		if v.DashboardPort == 0 {
			v.DashboardPort = 8080
		}
	case *TaskConfig:
		if v.Strategy == "" {
			v.Strategy = RoundRobin
		}
	}
}

// validate reports every unmet "required" constraint on obj at once and, if
// any were found, exits the process — an operator handed a misconfigured
// preset wants the full list of what's missing in one pass, not one exit
// per run while they fix fields one at a time. Settings is the only type
// Resolve validates (TaskConfig has no required fields of its own; a
// load_balance task with no upstreams fails later, at BuildTable, with a
// specific error instead of a blanket "is required").
func validate(s *Settings) {
	var missing []string
	if len(s.Tasks) == 0 {
		missing = append(missing, "Tasks")
	}

	if len(missing) == 0 {
		return
	}
	fmt.Printf("frontproxy: missing required settings: %s\n", strings.Join(missing, ", "))
	os.Exit(1)
}
