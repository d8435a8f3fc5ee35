// Package domain defines the core types shared by every other package of the
// reward core: logical identities, categories, assignment and usage records,
// snapshot rows, the capability handle contract, content hashing and the
// error taxonomy.
//
// This package imports nothing internal. Every other internal package imports
// domain, which keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - seconds, points and rates are int64
//   - Capability handles are never stored; they are reduced to a HandleHash
//     and a LogicalID before the operation that received them returns
//   - Ordering visible to users uses HandleHash, never LogicalID or labels
//   - All JSON tags use snake_case
package domain
