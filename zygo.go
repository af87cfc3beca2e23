package obsrpc

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/glycerine/obsrpc/iface"
	"github.com/glycerine/zygomys/v9/zygo"
)

// EvalTimeout computes the timeout policy of op for the bound
// (real form) arguments. Expression policies run in a fresh
// zygomys environment where every parameter is pre-defined
// under its own name; the expression's value is in seconds.
func EvalTimeout(op *iface.Operation, bound []any) (time.Duration, error) {
	pol := op.Timeout
	if pol.Expr == "" {
		return pol.Fixed, nil
	}

	env := zygo.NewZlisp()
	env.StandardSetup()
	defer env.Close()

	var prog strings.Builder
	for i, p := range op.Params {
		if i >= len(bound) {
			break
		}
		lit, ok := zygoLiteral(bound[i])
		if !ok {
			continue
		}
		fmt.Fprintf(&prog, "(def %v %v)\n", p.Name, lit)
	}
	prog.WriteString(pol.Expr)

	res, err := env.EvalString(prog.String())
	if err != nil {
		return 0, fmt.Errorf("timeout expression '%v' for %v: %w", pol.Expr, op.Name, err)
	}
	var sec float64
	switch x := res.(type) {
	case *zygo.SexpInt:
		sec = float64(x.Val)
	case *zygo.SexpFloat:
		sec = x.Val
	default:
		return 0, fmt.Errorf("timeout expression '%v' for %v gave non-number %v",
			pol.Expr, op.Name, res.SexpString(nil))
	}
	if math.IsNaN(sec) || sec < 0 {
		return 0, fmt.Errorf("timeout expression '%v' for %v gave %v", pol.Expr, op.Name, sec)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// zygoLiteral renders a scalar argument as zygomys source.
// Compound values are not bound; expressions should not need them.
func zygoLiteral(v any) (string, bool) {
	if v == nil {
		return "nil", true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		s := strconv.FormatFloat(rv.Float(), 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, true
	case reflect.String:
		return strconv.Quote(rv.String()), true
	}
	return "", false
}
