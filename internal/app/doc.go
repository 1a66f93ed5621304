// Package app composes the petition service.
//
// # Architecture Role
//
// The app package wires the domain services to their stores and owns the
// lifecycle of background services. It holds no business rules: those live
// in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── petition/       # Petitions, tiers, supporters, search query
//	│   └── user/           # Accounts, profiles, sessions
//	├── services/           # Business rules, one package per aggregate
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # Store, Tx and per-entity interfaces
//	│   ├── memory/         # In-memory implementation
//	│   ├── postgres/       # PostgreSQL via sqlx
//	│   ├── sqlite/         # Embedded SQLite via gorm
//	│   └── sqlbuild/       # Predicate and SET-list builder
//	├── content/            # Image blobs (filesystem, bolt, GCS)
//	├── httpapi/            # REST handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Config-driven bootstrap and HTTP server
//	└── system/             # Service lifecycle manager
//
// # Request Flow
//
//	HTTP request
//	      │
//	      ▼
//	middleware (trace id, CORS, credential, rate limit, metrics)
//	      │
//	      ▼
//	httpapi handler ── payload validation ── caller required?
//	      │
//	      ▼
//	services/* ── storage.Store.InTx ── NotFound → Forbidden → Conflict
//
// # Adding a Resource
//
//  1. Model it in internal/app/domain/
//  2. Extend the Tx interface in internal/app/storage/interfaces.go
//  3. Implement it in memory/, postgres/ and sqlite/, plus a migration
//  4. Add the rules in internal/app/services/<name>/
//  5. Wire the service in application.go and route it in httpapi/
package app
