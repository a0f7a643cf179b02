/*
Package domain contains the core domain models of the Kopernicus research engine.

It defines the research state threaded through every workflow step, the typed
deltas steps return, and the merge policy table that folds a delta into the
state. This package is kept pure and free of external dependencies like I/O or
persistence, following Hexagonal Architecture principles.

# Key Entities

  - ResearchState: The per-session record checkpointed after every step.
  - Delta: The typed, partial update a step produces from a state snapshot.
  - EvidenceRecord: One normalized outcome of a single capability invocation.
  - AnswerContract: The machine-checkable definition of "enough evidence".
  - HardConstraints / CommunityLog: Steward-maintained guardrails and ledger.
  - Phase: The top-level lifecycle (negotiating_plan, exploring, synthesizing, answered).
*/
package domain
