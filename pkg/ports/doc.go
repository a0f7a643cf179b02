/*
Package ports defines the driven ports (interfaces) for the Kopernicus engine.

These interfaces decouple the orchestration core from external implementations,
allowing the engine to work with various storage backends, knowledge services
and reasoning providers.

# Key Interfaces

  - CheckpointStore: Responsible for persisting and loading session ResearchState.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
  - CapabilityProvider: Invokes external tools (knowledge graph, entity resolution).
  - ReasoningProvider: Produces structured or free-text output for planning and interpretation.
*/
package ports
