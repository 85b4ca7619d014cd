package tools

import (
	"errors"
	"testing"

	"github.com/fleetforge/fleetd/internal/types"
)

func echoDef(name string, cat types.ToolCategory) Definition {
	return Definition{
		Name:     name,
		Category: cat,
		Params:   map[string]Param{"msg": {Type: "string", Required: true}},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			return types.TextResult(StringArg(args, "msg")), nil
		},
	}
}

func TestRegisterCatalogUniqueNames(t *testing.T) {
	r := New()
	if err := r.RegisterCatalog(echoDef("echo", types.CategoryBasic)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterCatalog(echoDef("echo", types.CategoryRAG)); err == nil {
		t.Fatal("expected conflict on duplicate tool name")
	}
}

func TestBasicAlwaysEnabled(t *testing.T) {
	r := New()
	r.RegisterCatalog(echoDef("echo", types.CategoryBasic))
	applied := r.UpdateConfiguration(nil)
	if _, ok := r.Get("echo"); !ok {
		t.Fatal("basic tool not active after UpdateConfiguration(nil)")
	}
	found := false
	for _, c := range applied.NewConfig {
		if c == types.CategoryBasic {
			found = true
		}
	}
	if !found {
		t.Fatal("basic not present in NewConfig")
	}
}

func TestUpdateConfigurationRegistersAndDeregisters(t *testing.T) {
	r := New()
	r.RegisterCatalog(echoDef("echo", types.CategoryBasic))
	r.RegisterCatalog(echoDef("recall", types.CategoryRAG))

	r.UpdateConfiguration([]types.ToolCategory{types.CategoryRAG})
	if _, ok := r.Get("recall"); !ok {
		t.Fatal("expected recall active after enabling rag")
	}

	applied := r.UpdateConfiguration([]types.ToolCategory{})
	if _, ok := r.Get("recall"); ok {
		t.Fatal("expected recall deregistered after removing rag")
	}
	deregistered := false
	for _, n := range applied.Deregistered {
		if n == "recall" {
			deregistered = true
		}
	}
	if !deregistered {
		t.Fatal("expected recall listed in Deregistered")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Execute("nope", Context{}, nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	r := New()
	r.RegisterCatalog(echoDef("echo", types.CategoryBasic))
	r.UpdateConfiguration(nil)
	_, err := r.Execute("echo", Context{}, map[string]interface{}{})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	r := New()
	r.RegisterCatalog(echoDef("echo", types.CategoryBasic))
	r.UpdateConfiguration(nil)
	res, err := r.Execute("echo", Context{AgentID: "a1"}, map[string]interface{}{"msg": "hi"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestListReturnsOnlyActive(t *testing.T) {
	r := New()
	r.RegisterCatalog(echoDef("echo", types.CategoryBasic))
	r.RegisterCatalog(echoDef("recall", types.CategoryRAG))
	r.UpdateConfiguration(nil)
	list := r.List()
	if len(list) != 1 || list[0]["name"] != "echo" {
		t.Fatalf("expected only echo listed, got %+v", list)
	}
}
