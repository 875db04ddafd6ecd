// Package retriever builds token-bounded context bundles for language models.
//
// Retrieve runs a hybrid search and packs results greedily until the token
// or item budget runs out. Token counts are estimated at CharsPerToken
// characters per token. The first result that overflows is kept in
// truncated form and packing stops. With IncludeRelated, neighbours from the
// relation graph are added at RelatedRelevance while under 80% of the budget.
//
// FormatForLLM renders a bundle as tagged markup or as prose sections.
package retriever
