package mathagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/seantiz/rollout/internal/inference"
)

const calculatorToolName = "calculator"

var calculatorTool = inference.FunctionTool(
	calculatorToolName,
	"Evaluate an arithmetic expression using + - * / and parentheses. Returns the numeric result.",
	json.RawMessage(`{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "description": "The expression to evaluate, e.g. (48 / 2) * 3"}
  },
  "required": ["expression"]
}`),
)

var errDivisionByZero = errors.New("division by zero")

// Calculate evaluates an arithmetic expression exactly and formats the result
// as a decimal. Integer literals are treated as exact rationals, so 7/2 is 3.5.
func Calculate(expr string) (string, error) {
	expr = strings.NewReplacer(",", "", "$", "", "×", "*", "÷", "/").Replace(expr)
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return "", fmt.Errorf("parse expression %q: %w", expr, err)
	}
	v, err := eval(node)
	if err != nil {
		return "", err
	}
	f, _ := constant.Float64Val(v)
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func eval(node ast.Expr) (constant.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", n.Value)
		}
		v := constant.MakeFromLiteral(n.Value, n.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("invalid number %s", n.Value)
		}
		return constant.ToFloat(v), nil
	case *ast.ParenExpr:
		return eval(n.X)
	case *ast.UnaryExpr:
		if n.Op != token.ADD && n.Op != token.SUB {
			return nil, fmt.Errorf("unsupported operator %s", n.Op)
		}
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		return constant.UnaryOp(n.Op, x, 0), nil
	case *ast.BinaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
		default:
			return nil, fmt.Errorf("unsupported operator %s", n.Op)
		}
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return nil, err
		}
		if n.Op == token.QUO && constant.Sign(y) == 0 {
			return nil, errDivisionByZero
		}
		return constant.BinaryOp(x, n.Op, y), nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", node)
	}
}

// runCalculator executes one calculator tool call. Evaluation errors are
// returned to the model as the tool output so it can correct itself.
func runCalculator(arguments string) string {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "error: arguments must be a JSON object with an expression field"
	}
	out, err := Calculate(args.Expression)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}
