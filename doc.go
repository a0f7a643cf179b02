/*
Package kopernicus is a resumable research orchestration engine: an iterative,
evidence-gathering loop over an external knowledge service, driven by a reasoning
provider that plans, interprets and decides under machine-enforced guardrails.

# Concept

A research session is a state machine walked one turn at a time. Each turn takes
caller input, runs workflow steps until a suspension point or the final answer, and
checkpoints the shared research state after every step. The reasoning provider is
treated as an unreliable oracle: every call has a local fallback, and a deterministic
loop guard overrides its decisions when exploration stops producing evidence.

An episode goes through three stages:

  - Plan negotiation. The first input drafts a plan and the turn suspends. Later
    inputs either approve the plan or revise it.
  - Exploration. An answer contract fixes what counts as sufficient evidence, then
    one capability call per iteration gathers evidence until the contract is met,
    the guard intervenes or the iteration ceiling is reached.
  - Synthesis. The answer is written from the evidence and carries the subgraph of
    relationships it is grounded on.

# Key Features

  - Durable Execution: a crashed or cancelled turn resumes at the step it stopped at.
  - Hexagonal Architecture: reasoning, capabilities and storage sit behind ports.
  - Guardrails: hard constraints on capability calls, loop bans and forced termination.
  - Streaming: every completed step is emitted as a StepDelta while the turn runs.

# Usage

	agent, err := kopernicus.New(reasoner, capabilities,
		kopernicus.WithStore(file.NewStore(".kopernicus/sessions")),
	)
	if err != nil {
		log.Fatal(err)
	}

	// Propose a plan; the turn suspends awaiting feedback.
	state, err := agent.Advance(ctx, "s1", "What drugs treat asthma?", nil)
	fmt.Println(state.Response)

	// Approve it and stream the exploration.
	state, err = agent.Advance(ctx, "s1", "approved", func(d domain.StepDelta) error {
		fmt.Println("step:", d.Step)
		return nil
	})
	fmt.Println(state.Response)
*/
package kopernicus
