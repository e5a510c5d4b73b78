// Package defload reads definition seed files and registers them with an
// engine at startup.
//
// A seed file is YAML (JSON is accepted as well):
//
//	definitions:
//	  - name: order
//	    states:
//	      - {id: new, initial: true}
//	      - {id: paid}
//	      - {id: shipped, final: true}
//	    actions:
//	      - {id: pay, from: [new], to: paid}
//	      - {id: ship, from: [paid], to: shipped, enabled: false}
//
// Omitted `enabled` means true.
package defload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/flowstate/pkg/api"
)

type seedFile struct {
	Definitions []seedDefinition `yaml:"definitions"`
}

type seedDefinition struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	States  []api.State  `yaml:"states"`
	Actions []seedAction `yaml:"actions"`
}

type seedAction struct {
	ID      string   `yaml:"id"`
	Enabled *bool    `yaml:"enabled"`
	From    []string `yaml:"from"`
	To      string   `yaml:"to"`
}

// Parse decodes a seed document.
func Parse(r io.Reader) ([]api.Definition, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return []api.Definition{}, nil
		}
		return nil, fmt.Errorf("decode definitions: %w", err)
	}

	defs := make([]api.Definition, 0, len(f.Definitions))
	for _, sd := range f.Definitions {
		def := api.Definition{
			ID:      sd.ID,
			Name:    sd.Name,
			States:  sd.States,
			Actions: make([]api.Action, 0, len(sd.Actions)),
		}
		for _, sa := range sd.Actions {
			enabled := true
			if sa.Enabled != nil {
				enabled = *sa.Enabled
			}
			def.Actions = append(def.Actions, api.Action{
				ID:         sa.ID,
				Enabled:    enabled,
				FromStates: sa.From,
				ToState:    sa.To,
			})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile parses the seed file at path.
func LoadFile(path string) ([]api.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Register registers defs in order. Definitions whose name is already
// registered are skipped, so seeding a durable backend on every start is
// harmless. Any other rejection aborts.
func Register(ctx context.Context, eng api.Engine, defs []api.Definition, logger *slog.Logger) (registered int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, def := range defs {
		stored, err := eng.RegisterDefinition(ctx, def)
		if errors.Is(err, api.ErrDuplicateName) {
			logger.InfoContext(ctx, "seed definition already registered", slog.String("name", def.Name))
			continue
		}
		if err != nil {
			return registered, fmt.Errorf("seed definition %q: %w", def.Name, err)
		}
		logger.InfoContext(ctx, "seed definition registered",
			slog.String("name", stored.Name),
			slog.String("definition_id", stored.ID),
		)
		registered++
	}
	return registered, nil
}
