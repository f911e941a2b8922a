// Package client is the Go SDK for anchord, the flight-log anchoring
// service.
//
// # Anchoring a flight
//
// Emit uploads the raw log and runs the checkpoint pipeline over it. Each
// chunk is appended to the versioned object and its tip is anchored on the
// ledger before the next chunk starts:
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	f, _ := os.Open("flight-001.log")
//	res, err := c.Emit(ctx, "flight-001", f, client.EmitOptions{Chunks: 10})
//
// When a run stops part-way, res still carries the checkpoints that were
// anchored and err is an *APIError naming the component that failed and
// the last sequence number written. Resume with StartSeq = LastSeq+1.
//
// # Verifying
//
//	v, err := c.Verify(ctx, "flight-001", "0x9c1f...")
//	if err == nil && !v.Match() {
//	    for _, m := range v.Mismatches {
//	        fmt.Println(m.Field, m.Expected, m.Actual)
//	    }
//	}
//
// An empty tip checks the anchored tip against the stored versions.
//
// # Direct ledger access
//
// GetMission and LogMission read and write a mission slot without touching
// storage. Add caching for repeated reads with WithCacheTTL.
package client
