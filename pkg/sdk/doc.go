// Package ragmcp embeds the ingestion and retrieval pipelines in a Go program
// without the stdio server or the HTTP API.
//
// Records live in a SQLite file or in Redis. Text is split into overlapping
// chunks, embedded with the caller's Embedder and ranked by cosine similarity.
//
//	client, err := ragmcp.New(ctx,
//	    ragmcp.WithSQLite("rag.db"),
//	    ragmcp.WithEmbedder(myEmbedder),
//	)
//	if err != nil { ... }
//	defer client.Close()
//
//	_, _ = client.Ingest(ctx, "docs", "notes.md", text)
//	hits, _ := client.Retrieve(ctx, "docs", "how do I rotate keys?", 3, 0.3)
package ragmcp
