package sundaegql

import (
	"fmt"

	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseOperation classifies the operation selected by payload and extracts
// its first root field. Inline arguments and variables are both resolved.
func ParseOperation(payload sundaews.StartPayload) (*sundaews.Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: payload.Query})
	if err != nil {
		return nil, fmt.Errorf("parsing query: %w", err)
	}

	def := doc.Operations.ForName(payload.OperationName)
	if def == nil {
		if payload.OperationName == "" {
			return nil, fmt.Errorf("operation name required when the document has %v operations", len(doc.Operations))
		}
		return nil, fmt.Errorf("unknown operation %v", payload.OperationName)
	}

	var kind sundaews.OperationKind
	switch def.Operation {
	case ast.Query:
		kind = sundaews.KindQuery
	case ast.Mutation:
		kind = sundaews.KindMutation
	case ast.Subscription:
		kind = sundaews.KindSubscription
	default:
		return nil, fmt.Errorf("unsupported operation type %v", def.Operation)
	}

	field := rootField(doc, def.SelectionSet)
	if field == nil {
		return nil, fmt.Errorf("operation has no root field")
	}

	vars := make(map[string]interface{}, len(payload.Variables))
	for k, v := range payload.Variables {
		vars[k] = v
	}
	for _, v := range def.VariableDefinitions {
		if _, ok := vars[v.Variable]; ok || v.DefaultValue == nil {
			continue
		}
		value, err := v.DefaultValue.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("default value of $%v: %w", v.Variable, err)
		}
		vars[v.Variable] = value
	}

	args := make(map[string]interface{}, len(field.Arguments))
	for _, arg := range field.Arguments {
		value, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %v: %w", arg.Name, err)
		}
		args[arg.Name] = value
	}

	op := &sundaews.Operation{
		Kind:          kind,
		Query:         payload.Query,
		OperationName: def.Name,
		Variables:     vars,
		Field:         field.Name,
		Args:          args,
	}
	if field.Alias != "" && field.Alias != field.Name {
		op.Alias = field.Alias
	}
	return op, nil
}

// rootField returns the first field of the selection set that is not
// __typename, following fragments.
func rootField(doc *ast.QueryDocument, selections ast.SelectionSet) *ast.Field {
	for _, selection := range selections {
		switch s := selection.(type) {
		case *ast.Field:
			if s.Name == "__typename" {
				continue
			}
			return s
		case *ast.InlineFragment:
			if f := rootField(doc, s.SelectionSet); f != nil {
				return f
			}
		case *ast.FragmentSpread:
			fragment := doc.Fragments.ForName(s.Name)
			if fragment == nil {
				continue
			}
			if f := rootField(doc, fragment.SelectionSet); f != nil {
				return f
			}
		}
	}
	return nil
}
