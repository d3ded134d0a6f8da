// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is a small client for the Ollama generation API.
//
// Only the pieces the server needs are implemented: a health check, the
// model list, and streaming /api/generate.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.Generate(ctx, ollama.GenerateRequest{
//		Model:  "rene",
//		Prompt: "Rene Descartes was",
//	})
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//	for {
//		frag, err := stream.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		w.Write([]byte(frag))
//	}
//
// # Error Handling
//
// All errors are *ClientError; use IsNotRunning, IsModelNotFound, IsTimeout
// or errors.Is with the Err* sentinels.
package ollama
