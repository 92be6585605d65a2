// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package search provides hybrid semantic and conceptual search over stored papers.
//
// The Searcher combines two signals:
//   - semantic similarity between the query and each paper's vector
//   - concept-mediated matches, where phrases from the query resolve to stored
//     concepts and the concepts lead to the papers linked to them
//
// Papers found both ways rank above papers found one way, and a paper whose
// title or abstract contains every query word gets an extra boost.
package search
