// Package embeddings turns address and material text into query vectors.
//
// Two backends are supported: the raced Azure OpenAI endpoints, whose
// winner is scoped to a resolution session, and a Text Embeddings
// Inference (TEI) server. Either can be wrapped with a Redis cache so
// repeated strings across documents skip the model call.
package embeddings
