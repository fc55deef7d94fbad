package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cleanTranscript", func() {
	DescribeTable("cleans model output",
		func(input, expected string) {
			Expect(cleanTranscript(input)).To(Equal(expected))
		},
		Entry("plain text", "Total Charges: $500.00", "Total Charges: $500.00"),
		Entry("surrounding whitespace", "\n  Amount Due: $150.00  \n", "Amount Due: $150.00"),
		Entry("fenced block", "```\nTotal Charges: $500.00\nYou Owe: $150.00\n```", "Total Charges: $500.00\nYou Owe: $150.00"),
		Entry("fenced block with language", "```text\nAmount Due: $150.00\n```", "Amount Due: $150.00"),
		Entry("unterminated fence", "```\nAmount Due: $150.00", "Amount Due: $150.00"),
		Entry("empty response", "   ", ""),
	)
})
