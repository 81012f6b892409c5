// Package models defines the core domain models for the tablematch
// formation engine.
//
// # Models
//
//   - Group: a bounded-capacity, time-bounded matching unit
//   - Venue: the assigned meeting place for a confirmed group
//   - Membership: a member's association with one group
//
// Liveness tiers are deliberately absent: they are derived from
// Membership.LastSeen by the presence package, never persisted.
//
// # Design Principles
//
//  1. **No circular references**: relationships use ID strings, not pointers
//  2. **Denormalized counts are healed, not trusted**: Group.CurrentCount is
//     a cache of the active-membership count and the reconciler corrects it
//  3. **Timestamps are Unix seconds** throughout, matching the store schema
package models
