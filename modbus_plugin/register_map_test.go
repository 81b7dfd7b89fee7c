// Copyright 2025 UMH Systems GmbH
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

package modbus_plugin_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/united-manufacturing-hub/benthos-umh-modbustcp/modbus_plugin"
)

func collect(m *RegisterMap, g Group) map[string]uint16 {
	out := map[string]uint16{}
	for name, addr := range m.Points(g) {
		out[name] = addr
	}
	return out
}

var _ = Describe("RegisterMap", func() {
	Context("parsing", func() {
		It("accepts the canonical group keys", func() {
			m, err := ParseRegisterMap(`{
				"coils": {"pump": 1},
				"discreteInputs": {"door": 2},
				"holdingRegisters": {"temperature": 7, "humidity": 8},
				"inputRegisters": {"pressure": 7}
			}`)
			Expect(err).NotTo(HaveOccurred())

			Expect(collect(m, Coils)).To(Equal(map[string]uint16{"pump": 1}))
			Expect(collect(m, DiscreteInputs)).To(Equal(map[string]uint16{"door": 2}))
			Expect(collect(m, HoldingRegisters)).To(Equal(map[string]uint16{"temperature": 7, "humidity": 8}))
			Expect(collect(m, InputRegisters)).To(Equal(map[string]uint16{"pressure": 7}))
			Expect(m.Len()).To(Equal(5))
		})

		It("accepts the short aliases used by older configurations", func() {
			m, err := ParseRegisterMap(`{"coils": {}, "inputs": {"door": 2}, "registers": {"level": 40}, "inputRegisters": {}}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(collect(m, DiscreteInputs)).To(Equal(map[string]uint16{"door": 2}))
			Expect(collect(m, HoldingRegisters)).To(Equal(map[string]uint16{"level": 40}))
		})

		It("accepts an already decoded object", func() {
			m, err := ParseRegisterMap(map[string]any{
				"coils":          map[string]any{"run": 3},
				"inputs":         map[string]any{},
				"registers":      map[string]any{},
				"inputRegisters": map[string]any{"flow": 65535},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(collect(m, Coils)).To(Equal(map[string]uint16{"run": 3}))
			Expect(collect(m, InputRegisters)).To(Equal(map[string]uint16{"flow": 65535}))
		})

		DescribeTable("rejects malformed maps",
			func(raw any) {
				m, err := ParseRegisterMap(raw)
				Expect(m).To(BeNil())

				var malformed *MalformedMapError
				Expect(err).To(BeAssignableToTypeOf(malformed))
				Expect(err).To(MatchError(ContainSubstring("malformed register map")))
			},
			Entry("nil", nil),
			Entry("invalid JSON", `{"coils": `),
			Entry("not an object", `[1, 2, 3]`),
			Entry("missing coils", `{"inputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("missing discrete inputs", `{"coils": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("missing holding registers", `{"coils": {}, "inputs": {}, "inputRegisters": {}}`),
			Entry("missing input registers", `{"coils": {}, "inputs": {}, "registers": {}}`),
			Entry("unknown group", `{"coils": {}, "inputs": {}, "registers": {}, "inputRegisters": {}, "flags": {}}`),
			Entry("both aliases of one group", `{"coils": {}, "inputs": {}, "discreteInputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("group is not an object", `{"coils": [], "inputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("negative address", `{"coils": {"a": -1}, "inputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("fractional address", `{"coils": {}, "inputs": {}, "registers": {"a": 1.5}, "inputRegisters": {}}`),
			Entry("string address", `{"coils": {}, "inputs": {}, "registers": {"a": "7"}, "inputRegisters": {}}`),
			Entry("address beyond 16 bits", `{"coils": {}, "inputs": {}, "registers": {}, "inputRegisters": {"a": 65536}}`),
			Entry("empty point name", `{"coils": {"": 1}, "inputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("name repeated inside a group", `{"coils": {"x": 1, "x": 2}, "inputs": {}, "registers": {}, "inputRegisters": {}}`),
			Entry("name shared across groups", `{"coils": {"x": 1}, "inputs": {}, "registers": {"x": 7}, "inputRegisters": {}}`),
		)

		It("names both groups when a point name is shared", func() {
			_, err := ParseRegisterMap(`{"coils": {"x": 1}, "inputs": {}, "registers": {"x": 7}, "inputRegisters": {}}`)

			var malformed *MalformedMapError
			Expect(errors.As(err, &malformed)).To(BeTrue())
			Expect(malformed.Group).To(Equal("registers"))
			Expect(malformed.Point).To(Equal("x"))
			Expect(malformed.Reason).To(Equal(`name already used in group "coils"`))
		})

		It("names the group holding a repeated point", func() {
			_, err := ParseRegisterMap(`{"coils": {}, "inputs": {}, "registers": {}, "inputRegisters": {"level": 1, "flow": 2, "level": 3}}`)

			var malformed *MalformedMapError
			Expect(errors.As(err, &malformed)).To(BeTrue())
			Expect(malformed.Group).To(Equal("inputRegisters"))
			Expect(malformed.Point).To(Equal("level"))
		})
	})

	DescribeTable("IsEmpty is true iff all four groups are empty",
		func(raw string, empty bool) {
			m, err := ParseRegisterMap(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.IsEmpty()).To(Equal(empty))
		},
		Entry("all empty", `{"coils": {}, "inputs": {}, "registers": {}, "inputRegisters": {}}`, true),
		Entry("one coil", `{"coils": {"a": 0}, "inputs": {}, "registers": {}, "inputRegisters": {}}`, false),
		Entry("one discrete input", `{"coils": {}, "inputs": {"a": 0}, "registers": {}, "inputRegisters": {}}`, false),
		Entry("one holding register", `{"coils": {}, "inputs": {}, "registers": {"a": 0}, "inputRegisters": {}}`, false),
		Entry("one input register", `{"coils": {}, "inputs": {}, "registers": {}, "inputRegisters": {"a": 0}}`, false),
	)

	It("enumerates points in name order and restarts on every call", func() {
		m := mustParseMap(`{"coils": {}, "inputs": {}, "registers": {"c": 3, "a": 1, "b": 2}, "inputRegisters": {}}`)

		var first, second []string
		for name := range m.Points(HoldingRegisters) {
			first = append(first, name)
		}
		for name := range m.Points(HoldingRegisters) {
			second = append(second, name)
		}
		Expect(first).To(Equal([]string{"a", "b", "c"}))
		Expect(second).To(Equal(first))

		By("stopping early when the consumer breaks")
		var taken []string
		for name := range m.Points(HoldingRegisters) {
			taken = append(taken, name)
			break
		}
		Expect(taken).To(Equal([]string{"a"}))
	})

	It("round-trips through its JSON form", func() {
		raw := `{
			"coils": {"pump": 1},
			"discreteInputs": {},
			"holdingRegisters": {"temperature": 7, "humidity": 8},
			"inputRegisters": {"pressure": 300}
		}`
		m := mustParseMap(raw)

		out, err := json.Marshal(m)
		Expect(err).NotTo(HaveOccurred())

		var got, want map[string]map[string]uint16
		Expect(json.Unmarshal(out, &got)).To(Succeed())
		Expect(json.Unmarshal([]byte(raw), &want)).To(Succeed())
		Expect(got).To(Equal(want))

		again, err := ParseRegisterMap(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Equal(m)).To(BeTrue())
	})

	It("fingerprints equal maps identically regardless of aliases and key order", func() {
		a := mustParseMap(`{"coils": {}, "inputs": {"x": 1}, "registers": {"t": 7, "h": 8}, "inputRegisters": {}}`)
		b := mustParseMap(`{"inputRegisters": {}, "holdingRegisters": {"h": 8, "t": 7}, "discreteInputs": {"x": 1}, "coils": {}}`)
		c := mustParseMap(`{"coils": {}, "inputs": {"x": 1}, "registers": {"t": 7, "h": 9}, "inputRegisters": {}}`)

		Expect(a.Fingerprint()).To(Equal(b.Fingerprint()))
		Expect(a.Equal(b)).To(BeTrue())
		Expect(a.Fingerprint()).NotTo(Equal(c.Fingerprint()))
		Expect(a.Equal(c)).To(BeFalse())
	})

	It("does not confuse the same point moved to another group", func() {
		a := mustParseMap(`{"coils": {"x": 1}, "inputs": {}, "registers": {}, "inputRegisters": {}}`)
		b := mustParseMap(`{"coils": {}, "inputs": {"x": 1}, "registers": {}, "inputRegisters": {}}`)
		Expect(a.Equal(b)).To(BeFalse())
	})
})
