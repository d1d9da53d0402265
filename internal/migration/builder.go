package migration

import (
	"errors"
	"fmt"
)

// Builder is a fluent constructor producing validated Migration values
type Builder struct {
	m Migration
}

// NewBuilder starts a migration with the given id and name
func NewBuilder(id, name string) *Builder {
	return &Builder{m: Migration{ID: id, Name: name}}
}

// UpSQL sets the forward SQL body
func (b *Builder) UpSQL(sql string) *Builder {
	b.m.UpSQL = sql
	return b
}

// DownSQL sets the optional reverse SQL body
func (b *Builder) DownSQL(sql string) *Builder {
	b.m.DownSQL = sql
	return b
}

// Description sets the optional human-readable description
func (b *Builder) Description(d string) *Builder {
	b.m.Description = d
	return b
}

// DependsOn declares that this migration must run after the given ids
func (b *Builder) DependsOn(ids ...string) *Builder {
	b.m.Dependencies = append(b.m.Dependencies, ids...)
	return b
}

// Destructive marks the migration as requiring explicit confirmation before
// rollback
func (b *Builder) Destructive(d bool) *Builder {
	b.m.Destructive = d
	return b
}

// Build validates and returns the migration
func (b *Builder) Build() (Migration, error) {
	if b.m.ID == "" {
		return Migration{}, errors.New("migration: id must not be empty")
	}
	if b.m.Name == "" {
		return Migration{}, fmt.Errorf("migration %s: name must not be empty", b.m.ID)
	}
	if b.m.UpSQL == "" {
		return Migration{}, fmt.Errorf("migration %s: up SQL must not be empty", b.m.ID)
	}

	seen := make(map[string]struct{}, len(b.m.Dependencies))
	for _, dep := range b.m.Dependencies {
		if dep == b.m.ID {
			return Migration{}, fmt.Errorf("migration %s: depends on itself", b.m.ID)
		}
		if _, ok := seen[dep]; ok {
			return Migration{}, fmt.Errorf("migration %s: duplicate dependency %q", b.m.ID, dep)
		}
		seen[dep] = struct{}{}
	}

	return b.m, nil
}

// MustBuild is Build for static migration sets where invalid input is a
// programming error
func (b *Builder) MustBuild() Migration {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
