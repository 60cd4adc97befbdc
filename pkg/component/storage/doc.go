// Package storage defines the client abstraction shared by the external
// backends finrag talks to (Redis, Milvus) and a Manager that owns their
// lifecycle.
//
// Components register their clients with a Manager at startup:
//
//	mgr := storage.NewManager()
//	mgr.MustRegister("redis", redisClient)
//	mgr.MustRegister("milvus", milvusClient)
//
//	statuses := mgr.HealthCheckAll(ctx)
//	defer mgr.CloseAll()
//
// Health checks run concurrently on the health-check worker pool.
package storage
