package thinking_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/thinking"
)

// extractAll runs the chunks through one State and returns the combined
// channels, including anything recovered by the final Flush.
func extractAll(chunks ...string) (string, string) {
	var st thinking.State
	var content, reasoning string
	for _, chunk := range chunks {
		c, r := st.Extract(chunk)
		content += c
		reasoning += r
	}
	c, r := st.Flush()
	return content + c, reasoning + r
}

var _ = Describe("State", func() {
	Describe("Extract", func() {
		It("passes plain text through as content", func() {
			content, reasoning := extractAll("just a normal answer")
			Expect(content).To(Equal("just a normal answer"))
			Expect(reasoning).To(BeEmpty())
		})

		It("routes tagged text to the reasoning channel", func() {
			content, reasoning := extractAll("before <thinking>deep thought</thinking> after")
			Expect(content).To(Equal("before  after"))
			Expect(reasoning).To(Equal("deep thought"))
		})

		DescribeTable("recognizes every dialect",
			func(open, closing string) {
				content, reasoning := extractAll("a" + open + "b" + closing + "c")
				Expect(content).To(Equal("ac"))
				Expect(reasoning).To(Equal("b"))
			},
			Entry("canonical", "<thinking>", "</thinking>"),
			Entry("bracket caps", "[THINKING]", "[/THINKING]"),
			Entry("short", "<think>", "</think>"),
			Entry("sentinel", "<|startofthinking|>", "<|endofthinking|>"),
		)

		It("matches tags case-insensitively", func() {
			content, reasoning := extractAll("x<ThInKiNg>y</THINKING>z")
			Expect(content).To(Equal("xz"))
			Expect(reasoning).To(Equal("y"))
		})

		It("lets any close tag end any open tag", func() {
			content, reasoning := extractAll("a<think>b[/THINKING]c")
			Expect(content).To(Equal("ac"))
			Expect(reasoning).To(Equal("b"))
		})

		It("collects multiple thinking sections", func() {
			content, reasoning := extractAll("<think>one</think>mid<think>two</think>")
			Expect(content).To(Equal("mid"))
			Expect(reasoning).To(Equal("onetwo"))
		})

		It("treats a nested open tag as literal reasoning text", func() {
			_, reasoning := extractAll("<think>a <think> b</think>")
			Expect(reasoning).To(Equal("a <think> b"))
		})

		It("treats a close tag without an open as literal content", func() {
			content, reasoning := extractAll("no </think> here")
			Expect(content).To(Equal("no </think> here"))
			Expect(reasoning).To(BeEmpty())
		})

		It("leaves stray brackets alone", func() {
			content, reasoning := extractAll("a < b and x[1] > 0")
			Expect(content).To(Equal("a < b and x[1] > 0"))
			Expect(reasoning).To(BeEmpty())
		})

		It("completes a tag split across chunks", func() {
			content, reasoning := extractAll("hello <thi", "nking>secret</thinking>done")
			Expect(content).To(Equal("hello done"))
			Expect(reasoning).To(Equal("secret"))
		})

		DescribeTable("produces identical output for every chunk boundary",
			func(open, closing string) {
				full := "Intro " + open + "reasoning here" + closing + " outro"
				wantContent, wantReasoning := extractAll(full)
				for i := 0; i <= len(full); i++ {
					content, reasoning := extractAll(full[:i], full[i:])
					Expect(content).To(Equal(wantContent), fmt.Sprintf("split at %d", i))
					Expect(reasoning).To(Equal(wantReasoning), fmt.Sprintf("split at %d", i))
				}
			},
			Entry("canonical", "<thinking>", "</thinking>"),
			Entry("bracket caps", "[THINKING]", "[/THINKING]"),
			Entry("short", "<think>", "</think>"),
			Entry("sentinel", "<|startofthinking|>", "<|endofthinking|>"),
		)

		It("splits into any number of frames without changing the output", func() {
			full := "<thinking>A</thinking>B"
			for i := 0; i <= len(full); i++ {
				for j := i; j <= len(full); j++ {
					content, reasoning := extractAll(full[:i], full[i:j], full[j:])
					Expect(content).To(Equal("B"), fmt.Sprintf("splits at %d,%d", i, j))
					Expect(reasoning).To(Equal("A"), fmt.Sprintf("splits at %d,%d", i, j))
				}
			}
		})
	})

	Describe("Flush", func() {
		It("accepts a tag left open at end of stream", func() {
			var st thinking.State
			content, reasoning := st.Extract("Answer <thinking>still going")
			c, r := st.Flush()
			Expect(content + c).To(Equal("Answer "))
			Expect(reasoning + r).To(Equal("still going"))
			Expect(st.InThinking()).To(BeTrue())
		})

		It("returns a partial tag as content when no tag is open", func() {
			var st thinking.State
			content, _ := st.Extract("hello <thi")
			Expect(content).To(Equal("hello "))
			c, r := st.Flush()
			Expect(c).To(Equal("<thi"))
			Expect(r).To(BeEmpty())
		})

		It("is a no-op when nothing is held back", func() {
			var st thinking.State
			_, _ = st.Extract("plain")
			c, r := st.Flush()
			Expect(c).To(BeEmpty())
			Expect(r).To(BeEmpty())
		})
	})
})
