// Package storage provides the keepstore persistence engine.
//
// The Engine composes the tier selector, the compression engine, the
// integrity checks and the capacity manager into one save/load API:
//
//	eng := storage.New(cfg, selector)
//	if err := eng.Open(ctx); err != nil { ... }
//	defer eng.Close()
//
//	res, err := eng.SaveWithRetry(ctx, "employees", records, 3)
//	_, err = eng.Load(ctx, "employees", &records)
//
// Every value is wrapped in an envelope (see package envelope) and stored
// under the configured namespace. Saves retry transient failures with a
// linear backoff, re-run tier detection when the active tier becomes
// unavailable, and run one capacity cleanup when a quota is exceeded.
package storage
