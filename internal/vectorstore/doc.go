// Package vectorstore queries the address and material catalogs.
//
// A catalog is one vector index whose points carry string, numeric and
// boolean metadata. Three backends implement Index:
//
//   - PineconeStore: the managed index, queried over its REST data plane.
//   - QdrantStore: a self-hosted Qdrant over gRPC with retry and a
//     circuit breaker.
//   - ChromemStore: an embedded chromem-go database for development and
//     tests.
//
// Filters use a small operator set ($eq, $in, $gte, $lt) that each
// backend translates to its native form. A query with an all-zero
// vector is a point lookup: only the filter selects results and every
// match scores 0.
package vectorstore
