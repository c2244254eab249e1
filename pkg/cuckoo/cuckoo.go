// Package cuckoo implements the cuckoo-cycle proof-of-work challenge used
// to gate login attempts before the RSA/Blowfish handshake begins.
//
// A challenge is a prefix string (the server-issued nonce material); a
// solution is an ascending list of proof_size edge nonces whose induced
// bipartite graph contains one cycle of exactly proof_size edges.
package cuckoo

// Params bounds a cuckoo-cycle search. SizeShift=20 keeps the graph small
// enough to solve in a login round-trip budget; ProofSize=42 and
// MaxPathLen=8192 are the conventional cuckoo-cycle defaults.
type Params struct {
	SizeShift  uint
	ProofSize  int
	MaxPathLen int
}

// DefaultParams returns this implementation's parameter set.
func DefaultParams() Params {
	return Params{SizeShift: 20, ProofSize: 42, MaxPathLen: 8192}
}

type pair struct{ a, b uint32 }

// Work searches nonces [0, maxNonce) for a proof_size-length cycle in the
// cuckoo graph keyed by prefix. It returns the ascending nonce list and
// true on success, or nil and false if no cycle of the required length
// turns up before maxNonce is exhausted.
func Work(prefix string, maxNonce uint32, p Params) ([]uint32, bool) {
	ctx := newContext(prefix)
	half := uint64(1) << (p.SizeShift - 1)
	nodeMask := half - 1

	// cuckoo[node] == 0 means node is an unassigned tree root; otherwise
	// it holds the node's parent in the current path-compressed forest.
	cuckoo := make([]uint32, 2*half+1)
	us := make([]uint32, p.MaxPathLen)
	vs := make([]uint32, p.MaxPathLen)

	for n := uint32(0); n < maxNonce; n++ {
		u0, v0 := ctx.edge(n, half, nodeMask)

		nu, ok := followPath(cuckoo, uint32(u0), us)
		if !ok {
			continue
		}
		nv, ok := followPath(cuckoo, uint32(v0), vs)
		if !ok {
			continue
		}

		if us[nu-1] == vs[nv-1] {
			min := nu
			if nv < min {
				min = nv
			}
			i, j := nu-min, nv-min
			for us[i] != vs[j] {
				i++
				j++
			}
			length := i + j + 1
			if length == p.ProofSize {
				if sol := recoverSolution(ctx, n, half, nodeMask, us[:i+1], vs[:j+1], p.ProofSize); sol != nil {
					return sol, true
				}
			}
			continue
		}

		if nu < nv {
			for k := nu - 1; k > 0; k-- {
				cuckoo[us[k]] = us[k-1]
			}
			cuckoo[u0] = uint32(v0)
		} else {
			for k := nv - 1; k > 0; k-- {
				cuckoo[vs[k]] = vs[k-1]
			}
			cuckoo[v0] = uint32(u0)
		}
	}
	return nil, false
}

// followPath walks the path-compressed forest from u up to its root,
// filling path with the visited node chain (path[0] == u). It reports
// false if the chain exceeds len(path) without reaching a root, since the
// search treats that nonce's edge as unusable rather than aborting the
// whole run.
func followPath(cuckoo []uint32, u uint32, path []uint32) (int, bool) {
	n := 0
	for {
		if n >= len(path) {
			return n, false
		}
		path[n] = u
		n++
		if cuckoo[u] == 0 {
			return n, true
		}
		u = cuckoo[u]
	}
}

// recoverSolution re-derives which nonces in [0, closingNonce] produced
// the edges making up the two converging paths (plus the edge that
// closed the cycle), and returns them in ascending order.
func recoverSolution(ctx context, closingNonce uint32, half, nodeMask uint64, us, vs []uint32, proofSize int) []uint32 {
	cycleEdges := make(map[pair]bool, 2*proofSize)
	for k := 0; k < len(us)-1; k++ {
		cycleEdges[pair{us[k], us[k+1]}] = true
	}
	for k := 0; k < len(vs)-1; k++ {
		cycleEdges[pair{vs[k], vs[k+1]}] = true
	}
	cycleEdges[pair{us[0], vs[0]}] = true

	sol := make([]uint32, 0, proofSize)
	for n := uint32(0); n <= closingNonce; n++ {
		u0, v0 := ctx.edge(n, half, nodeMask)
		uu, vv := uint32(u0), uint32(v0)
		if cycleEdges[pair{uu, vv}] || cycleEdges[pair{vv, uu}] {
			sol = append(sol, n)
		}
	}
	if len(sol) != proofSize {
		return nil
	}
	return sol
}

// Verify checks that solution is an ascending list of proof_size edge
// nonces forming a single cycle in the cuckoo graph keyed by prefix.
func Verify(prefix string, p Params, solution []uint32) bool {
	if len(solution) != p.ProofSize {
		return false
	}
	for i := 1; i < len(solution); i++ {
		if solution[i] <= solution[i-1] {
			return false
		}
	}

	ctx := newContext(prefix)
	half := uint64(1) << (p.SizeShift - 1)
	nodeMask := half - 1

	us := make([]uint32, p.ProofSize)
	vs := make([]uint32, p.ProofSize)
	for i, n := range solution {
		u0, v0 := ctx.edge(n, half, nodeMask)
		us[i] = uint32(u0)
		vs[i] = uint32(v0)
	}

	i, count := 0, 0
	for {
		j := i
		for k := 0; k < p.ProofSize; k++ {
			if k != i && us[k] == us[i] {
				if j != i {
					return false
				}
				j = k
			}
		}
		if j == i {
			return false
		}
		i = j

		j = i
		for k := 0; k < p.ProofSize; k++ {
			if k != i && vs[k] == vs[i] {
				if j != i {
					return false
				}
				j = k
			}
		}
		if j == i {
			return false
		}
		i = j
		count += 2 // one u-side hop and one v-side hop, one edge each
		if i == 0 {
			break
		}
	}
	return count == p.ProofSize
}
