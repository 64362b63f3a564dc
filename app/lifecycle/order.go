// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lifecycle

//go:generate stringer -type=OrderStart -trimprefix=Start
//go:generate stringer -type=OrderStop -trimprefix=Stop

// OrderStart defines the order hooks are started.
type OrderStart int

// OrderStop defines the order hooks are stopped.
type OrderStop int

// Global ordering of start hooks.
const (
	StartSnapshotLoad OrderStart = iota
	StartMonitoringAPI
	StartP2PRouters
	StartWindowDB
	StartEngine
	StartScheduler
)

// Global ordering of stop hooks; follows dependency tree from root to leaves.
const (
	StopScheduler OrderStop = iota
	StopEngine
	StopSnapshotSave
	StopSnapshotDB
	StopP2PNode
	StopMonitoringAPI
	StopTracing
)
