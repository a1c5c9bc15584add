package main

import "testing"

func TestSymbolUpdateUndefinedToPublic(t *testing.T) {
	table := NewSymbolTable()

	if err := table.Update("FOO", Symbol{Kind: SymUndefined}); err != nil {
		t.Fatalf("Update(Undefined): %v", err)
	}

	pub := NewPublicSymbol(0, 1, 0, 0x42)
	if err := table.Update("FOO", pub); err != nil {
		t.Fatalf("Update(Public): %v", err)
	}

	sym, ok := table.Get("FOO")
	if !ok {
		t.Fatalf("FOO not found after upgrade")
	}
	if sym.Kind != SymPublic {
		t.Fatalf("Kind = %v, want SymPublic", sym.Kind)
	}
	if !sym.Public.Used {
		t.Fatalf("Used = false, want true: upgrading Undefined to Public must mark it used")
	}
}

func TestSymbolUpdateExtdefAfterPublicOnlyMarksUsed(t *testing.T) {
	table := NewSymbolTable()
	pub := NewPublicSymbol(0, 1, 0, 0x42)
	if err := table.Update("FOO", pub); err != nil {
		t.Fatalf("Update(Public): %v", err)
	}
	if err := table.Update("FOO", Symbol{Kind: SymUndefined}); err != nil {
		t.Fatalf("Update(Undefined) after Public: %v", err)
	}

	sym, _ := table.Get("FOO")
	if sym.Kind != SymPublic {
		t.Fatalf("Kind = %v, want SymPublic (an EXTDEF must never downgrade a Public symbol)", sym.Kind)
	}
	if sym.Public.Offset != 0x42 {
		t.Fatalf("Offset = 0x%x, want 0x42 (value must be unchanged)", sym.Public.Offset)
	}
}

func TestSymbolUpdatePublicRedefinitionFails(t *testing.T) {
	table := NewSymbolTable()
	if err := table.Update("FOO", NewPublicSymbol(0, 1, 0, 0x10)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("FOO", NewPublicSymbol(0, 1, 0, 0x20)); err == nil {
		t.Fatalf("redefining a Public symbol: want error, got nil")
	}
}

func TestSymbolUpdateCommonGrowsToMax(t *testing.T) {
	table := NewSymbolTable()
	if err := table.Update("BUF", NewCommonSymbol(0x10, false)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("BUF", NewCommonSymbol(0x30, false)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("BUF", NewCommonSymbol(0x20, false)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sym, _ := table.Get("BUF")
	if sym.Common.Size != 0x30 {
		t.Fatalf("Size = 0x%x, want 0x30 (largest COMDEF wins)", sym.Common.Size)
	}
}

func TestSymbolUpdateCommonNearFarMismatchFails(t *testing.T) {
	table := NewSymbolTable()
	if err := table.Update("BUF", NewCommonSymbol(0x10, false)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("BUF", NewCommonSymbol(0x10, true)); err == nil {
		t.Fatalf("changing a communal variable's near/far attribute: want error, got nil")
	}
}

func TestSymbolUpdateCommonRedefinedAsPublicFails(t *testing.T) {
	table := NewSymbolTable()
	if err := table.Update("BUF", NewCommonSymbol(0x10, false)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("BUF", NewPublicSymbol(0, 1, 0, 0x10)); err == nil {
		t.Fatalf("redefining a communal variable as public: want error, got nil")
	}
}

func TestSymbolUpdatePublicRedefinedAsCommonFails(t *testing.T) {
	table := NewSymbolTable()
	if err := table.Update("BUF", NewPublicSymbol(0, 1, 0, 0x10)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := table.Update("BUF", NewCommonSymbol(0x10, false)); err == nil {
		t.Fatalf("redefining a public symbol as communal: want error, got nil")
	}
}

func TestUndefinedSymbols(t *testing.T) {
	table := NewSymbolTable()
	table.Update("A", Symbol{Kind: SymUndefined})
	table.Update("B", NewPublicSymbol(0, 1, 0, 0x10))
	table.Update("C", Symbol{Kind: SymUndefined})

	names := map[string]bool{}
	for _, n := range table.UndefinedSymbols() {
		names[n] = true
	}
	if !names["A"] || !names["C"] || names["B"] {
		t.Fatalf("UndefinedSymbols() = %v, want exactly {A, C}", table.UndefinedSymbols())
	}
}
