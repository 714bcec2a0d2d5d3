package asset

import "testing"

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		Entry{ID: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9},
		Entry{ID: "HJUfqXoYjC653f2p33i84zdCC3jc4EuVnbruSe5kpump", Decimals: 6},
		Entry{ID: "  "},
	)

	sol := r.Resolve("So11111111111111111111111111111111111111112")
	if !sol.Known || sol.Symbol != "SOL" || sol.Decimals != 9 {
		t.Fatalf("sol = %+v", sol)
	}

	noSym := r.Resolve("HJUfqXoYjC653f2p33i84zdCC3jc4EuVnbruSe5kpump")
	if !noSym.Known || noSym.Symbol != "HJUf...pump" {
		t.Fatalf("entry without symbol = %+v", noSym)
	}

	unknown := r.Resolve("7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr")
	if unknown.Known || unknown.Symbol != "7GCi...W2hr" || unknown.Decimals != 0 {
		t.Fatalf("unknown = %+v", unknown)
	}
}

func TestNilRegistryResolves(t *testing.T) {
	t.Parallel()
	var r *Registry
	if got := r.Resolve("abc"); got.Known || got.Symbol != "abc" {
		t.Fatalf("got %+v", got)
	}
}
