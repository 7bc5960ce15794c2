// Copyright 2025 Tessera ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device defines the hardware abstraction consumed by the execution
// engine: command queues, command lists, command allocators, descriptor
// heaps, and the barrier/resource-state vocabulary recorded into command
// lists.
//
// The engine never creates devices or queues itself; callers construct an
// implementation (see device/wgpu for the WebGPU-backed one) and hand it to
// execution.New. All types here are contracts only, so the engine can run
// against an in-memory fake in tests.
package device
