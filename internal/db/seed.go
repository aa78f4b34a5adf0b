package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"botfleet/internal/models"
)

// FleetFile is the YAML layout accepted by SeedFleet. Peers are referenced by
// agent name and credentials may use ${ENV} references.
type FleetFile struct {
	Agents []FleetAgent `yaml:"agents"`
}

type FleetAgent struct {
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description"`
	Active             *bool    `yaml:"active"`
	Handle             string   `yaml:"handle"`
	Credential         string   `yaml:"credential"`
	Topics             []string `yaml:"topics"`
	Personality        string   `yaml:"personality"`
	PostCadence        int      `yaml:"post_cadence"`
	InteractionEnabled *bool    `yaml:"interaction_enabled"`
	InteractionCadence int      `yaml:"interaction_cadence"`
	Behavior           string   `yaml:"behavior"`
	Peers              []string `yaml:"peers"`
}

type SeedResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

func SeedFleetFromPath(ctx context.Context, database *sql.DB, path string) (SeedResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedResult{}, err
	}
	var f FleetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return SeedResult{}, fmt.Errorf("parse fleet file: %w", err)
	}
	return SeedFleet(ctx, database, f)
}

// SeedFleet creates the agents in f that do not already exist by name, then
// wires peer lists by name. Running it twice creates nothing new.
func SeedFleet(ctx context.Context, database *sql.DB, f FleetFile) (SeedResult, error) {
	result := SeedResult{Created: []string{}, Skipped: []string{}}

	existing, err := ListAgents(ctx, database, false)
	if err != nil {
		return result, err
	}
	byName := make(map[string]int64, len(existing))
	for _, a := range existing {
		byName[a.Name] = a.ID
	}

	created := map[string]bool{}
	for i, entry := range f.Agents {
		if entry.Name == "" {
			return result, fmt.Errorf("agent %d: name is required", i)
		}
		if _, ok := byName[entry.Name]; ok {
			result.Skipped = append(result.Skipped, entry.Name)
			continue
		}
		a := models.Agent{
			Name:               entry.Name,
			Active:             boolOr(entry.Active, true),
			Handle:             entry.Handle,
			Credential:         os.ExpandEnv(entry.Credential),
			Topics:             entry.Topics,
			Personality:        entry.Personality,
			PostCadence:        entry.PostCadence,
			InteractionEnabled: boolOr(entry.InteractionEnabled, true),
			InteractionCadence: entry.InteractionCadence,
			Behavior:           models.BehaviorProfile(entry.Behavior),
		}
		if entry.Description != "" {
			d := entry.Description
			a.Description = &d
		}
		stored, err := CreateAgent(ctx, database, a)
		if err != nil {
			return result, fmt.Errorf("create agent %q: %w", entry.Name, err)
		}
		byName[stored.Name] = stored.ID
		created[stored.Name] = true
		result.Created = append(result.Created, stored.Name)
	}

	for _, entry := range f.Agents {
		if !created[entry.Name] || len(entry.Peers) == 0 {
			continue
		}
		peers := make([]int64, 0, len(entry.Peers))
		for _, name := range entry.Peers {
			id, ok := byName[name]
			if !ok {
				return result, fmt.Errorf("agent %q: unknown peer %q", entry.Name, name)
			}
			peers = append(peers, id)
		}
		if _, err := UpdateAgent(ctx, database, byName[entry.Name], models.AgentPatch{Peers: &peers}); err != nil {
			return result, fmt.Errorf("wire peers for %q: %w", entry.Name, err)
		}
	}
	return result, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
