package machine

import (
	"fmt"
	"os"
	"strings"

	fsm "github.com/goliatone/go-fsm"
	"gopkg.in/yaml.v3"
)

// ParseConfig parses JSON or YAML into a ConfigSet.
func ParseConfig(data []byte) (ConfigSet, error) {
	var cfg ConfigSet
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads and parses a definition file.
func LoadConfigFile(path string) (ConfigSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigSet{}, fmt.Errorf("read machine config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// FromConfig resolves named guards and hooks and returns a Definition.
// Names are trimmed before lookup. Registries may be nil when the config
// references none.
func FromConfig[R fsm.Record](cfg MachineConfig, guards *GuardRegistry[R], hooks *HookRegistry[R]) (Definition[R], error) {
	def := Definition[R]{Name: cfg.Name, Version: cfg.Version}
	if err := cfg.Validate(); err != nil {
		return def, fsm.ConfigError(cfg.Name, err.Error())
	}

	for _, st := range cfg.States {
		def.States = append(def.States, StateDefinition{
			Name:        st.Name,
			Initial:     st.Initial,
			Terminal:    st.Terminal,
			Description: st.Description,
			Metadata:    copyMap(st.Metadata),
		})
	}

	for _, ev := range cfg.Events {
		event := EventDefinition[R]{Name: ev.Name}
		for idx, tc := range ev.Transitions {
			tr := Transition[R]{
				From:     append([]string(nil), tc.From...),
				To:       tc.To,
				Metadata: copyMap(tc.Metadata),
			}
			for _, name := range tc.Guards {
				name = strings.TrimSpace(name)
				g, ok := guards.Lookup(name)
				if !ok {
					return def, fsm.ConfigError(cfg.Name, fmt.Sprintf("event %s transition[%d]: unknown guard %q", ev.Name, idx, name))
				}
				tr.Guards = append(tr.Guards, g)
			}
			before, err := resolveHooks(cfg.Name, ev.Name, idx, tc.Before, hooks)
			if err != nil {
				return def, err
			}
			after, err := resolveHooks(cfg.Name, ev.Name, idx, tc.After, hooks)
			if err != nil {
				return def, err
			}
			tr.Before, tr.After = before, after
			event.Transitions = append(event.Transitions, tr)
		}
		def.Events = append(def.Events, event)
	}
	return def, nil
}

func resolveHooks[R fsm.Record](machine, event string, idx int, names []string, hooks *HookRegistry[R]) ([]Hook[R], error) {
	var out []Hook[R]
	for _, name := range names {
		name = strings.TrimSpace(name)
		h, ok := hooks.Lookup(name)
		if !ok {
			return nil, fsm.ConfigError(machine, fmt.Sprintf("event %s transition[%d]: unknown hook %q", event, idx, name))
		}
		out = append(out, h)
	}
	return out, nil
}

// ToConfig converts a compiled table back into its serializable form.
func ToConfig[R fsm.Record](t *Table[R], version string) MachineConfig {
	cfg := MachineConfig{Name: t.Machine(), Version: version}
	for _, st := range t.States() {
		cfg.States = append(cfg.States, StateConfig{
			Name:        st.Name,
			Initial:     st.Initial,
			Terminal:    st.Terminal,
			Description: st.Description,
			Metadata:    copyMap(st.Metadata),
		})
	}
	byEvent := map[string]*EventConfig{}
	for _, event := range t.Events() {
		cfg.Events = append(cfg.Events, EventConfig{Name: event})
	}
	for i := range cfg.Events {
		byEvent[cfg.Events[i].Name] = &cfg.Events[i]
	}
	for _, tr := range t.Transitions() {
		tc := TransitionConfig{
			From:     append([]string(nil), tr.From...),
			To:       tr.To,
			Metadata: copyMap(tr.Metadata),
		}
		for _, g := range tr.Guards {
			tc.Guards = append(tc.Guards, g.Name)
		}
		for _, h := range tr.Before {
			tc.Before = append(tc.Before, h.Name)
		}
		for _, h := range tr.After {
			tc.After = append(tc.After, h.Name)
		}
		ev := byEvent[tr.Event]
		ev.Transitions = append(ev.Transitions, tc)
	}
	return cfg
}
