// Package app composes the marketplace engine.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── audit/          # Audit trail entries
//	│   ├── commission/     # Tiers, commissioners, commission transactions
//	│   ├── developer/      # Developer profiles and balances
//	│   ├── lead/           # Pooled leads and the sales pipeline
//	│   └── project/        # Projects and escrow state
//	├── services/           # Calculator, escrow ledger, lead allocation, matching
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── httpapi/            # HTTP routes and handlers
//	├── jobs/               # Scheduled background work
//	├── runtime/            # Config-driven process wiring and HTTP server
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/marketplace/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services (business rules)
//	      │
//	      └──► internal/app/storage (persistence)
//
// Business rules live in services; this package only wires them.
package app
