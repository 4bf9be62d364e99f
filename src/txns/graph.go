package txns

import (
	"fmt"
	"strings"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

type edgeInfo struct {
	dst      common.TxnID
	lockMode SimpleLockMode
}

// txnDependencyGraph maps a waiting transaction to the holders it waits for.
type txnDependencyGraph map[common.TxnID][]edgeInfo

var edgeColors = map[SimpleLockMode]string{
	SimpleLockShared:    "blue",
	SimpleLockExclusive: "red",
}

func (g txnDependencyGraph) Dump() string {
	var result strings.Builder

	result.WriteString("digraph TransactionDependencyGraph {\n")
	result.WriteString("\trankdir=LR;\n")
	result.WriteString("\tnode [shape=box];\n")

	for txnID := range g {
		result.WriteString(
			fmt.Sprintf("\t\"txn_%v\" [label=\"Txn %v\"];\n", txnID, txnID),
		)
	}
	result.WriteString("\n")

	for txnID, deps := range g {
		for _, edge := range deps {
			result.WriteString(
				fmt.Sprintf(
					"\t\"txn_%v\" -> \"txn_%v\" [label=\"%v\", color=\"%s\"];\n",
					txnID,
					edge.dst,
					edge.lockMode,
					edgeColors[edge.lockMode],
				),
			)
		}
	}

	result.WriteString("}\n")
	return result.String()
}

func (m *LockManager[ObjectID]) GetGraphSnaphot() txnDependencyGraph {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph := txnDependencyGraph{}
	for txnID := range m.lockedRecords {
		graph[txnID] = []edgeInfo{}
	}

	for waiter, info := range m.waiting {
		if _, ok := graph[waiter]; !ok {
			graph[waiter] = []edgeInfo{}
		}

		rec, ok := m.records[info.objectID]
		if !ok {
			continue
		}
		for holder := range rec.holders {
			if holder == waiter {
				continue
			}
			graph[waiter] = append(graph[waiter], edgeInfo{
				dst:      holder,
				lockMode: info.lockMode,
			})
		}
	}
	return graph
}

// DumpDependencyGraph renders the current waits-for relation in DOT format.
func (m *LockManager[ObjectID]) DumpDependencyGraph() string {
	return m.GetGraphSnaphot().Dump()
}
