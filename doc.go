// Package portfolioqa answers questions about a person from a CSV knowledge base
// using retrieval-augmented generation.
//
// The client embeds every knowledge base record once, persists the vectors on
// disk and answers each question from the closest records:
//
//	client, err := portfolioqa.New(
//	    portfolioqa.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	    portfolioqa.WithKnowledgeBase("data/knowledge_base.csv"),
//	    portfolioqa.WithIndexDir("data/index"),
//	    portfolioqa.WithContactLine("Reach me at https://linkedin.com/in/someone"),
//	)
//	ans, err := client.Answer(ctx, "What languages do you use?")
//
// Custom providers plug in through WithEmbedder and WithGenerator.
// A generation failure does not fail Answer: the result is marked Degraded
// and carries the fallback text together with the retrieved sources.
package portfolioqa
