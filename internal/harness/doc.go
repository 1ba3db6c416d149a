// Package harness runs scripted game sessions against the real engine.
//
// A scenario plays inbound events from named participants through
// engine.HandleEvent (and engine.Disconnect), records every outbound
// envelope, then reads the session log back from the store and
// reconstructs the final board with the replay service. Assertions and
// golden transcripts are evaluated against that outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: opening_hand
//	description: "Deal an opening hand and bench a card"
//	snapshot_interval: 50
//	room_codes: [ABC234]
//	cards:
//	  - { cardId: "1", name: Pikachu, super_type: Pokémon }
//	steps:
//	  - as: alice
//	    event: createRoom
//	  - as: bob
//	    event: joinRoom
//	    data: { roomCode: abc234 }
//	  - as: alice
//	    event: cardsMoved
//	    data: { from: deck, to: hand, cards: ["1"] }
//	  - as: bob
//	    disconnect: true
//	assertions:
//	  - type: log_count
//	    action: CARDSMOVED
//	    count: 1
//	  - type: pile_size
//	    role: player
//	    pile: hand
//	    count: 1
//
// # Assertion Types
//
//   - log_count: the session log holds exactly count records of action type
//   - log_order: the given action types appear in the log in this order
//   - delivered: participant to received event exactly count times
//   - pile_size: the reconstructed pile of role holds count cards
//     (bench counts slots, active is 0 or 1)
//   - anomaly_count: the replay recorded count anomalies, of kind if given
//   - replay_start: reconstruction started from the snapshot at seq
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store, a fake clock, sequential session
// keys ("session-1", ...) and either the scenario's room codes or sequential
// ones ("ROOM-1", ...). Participant ids are the names in the steps. The same
// scenario therefore always yields the same transcript.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/opening_hand.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
