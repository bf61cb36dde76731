// Package cluster partitions meal candidates into size-constrained groups.
//
// A run proceeds in five steps:
//
//  1. Feature assembly: location, preference and (optionally) availability
//     columns are standardized per column and scaled by their group weight.
//  2. K selection: max(KMin, ceil(N/MinGroupSize)), clamped to N.
//  3. Partitioning through a Partitioner (KMeans by default).
//  4. Small-cluster reassignment: members of undersized clusters move to the
//     nearest adequately sized cluster, when at least two such clusters exist.
//  5. Dense 1..K' sequence numbers and ranks ordered by (distance, user id).
//
// Identical candidates, parameters and seed always produce identical output.
package cluster
