package jack

import (
	"fmt"
	"sort"
	"strconv"

	"n2t.dev/toolchain/pkg/utils"
)

// ----------------------------------------------------------------------------
// Jack TypeChecker

// The TypeChecker takes a 'jack.Program' and walks it exactly the way the Lowerer does (a
// recursive descent over the AST in DFS order), except it never produces any 'vm.Operation':
// it only resolves variables/calls against the declared scopes and program and makes sure the
// 'DataType' of every expression matches what its surrounding construct expects.
type TypeChecker struct {
	program utils.OrderedMap[string, Class] // The program to check, it must be not nil nor empty
	scopes  ScopeTable                      // Keeps track of the scopes and declared variables inside each one

	currentClass  string   // Name of the class currently being checked, used to resolve 'this'/internal calls
	currentReturn DataType // Return type declared by the subroutine currently being checked
}

// Initializes and returns to the caller a brand new 'TypeChecker' struct.
func NewTypeChecker(p Program) TypeChecker {
	// Same reasoning as 'jack.NewLowerer': order the classes by name before storing them in the
	// OrderedMap so two runs over the same input always report the first error in the same place.
	classes := []utils.MapEntry[string, Class]{}
	for _, class := range p {
		classes = append(classes, utils.MapEntry[string, Class]{Key: class.Name, Value: class})
	}
	sort.Slice(classes, func(i, j int) bool { return sort.StringsAreSorted([]string{classes[i].Key, classes[j].Key}) })

	return TypeChecker{program: utils.NewOrderedMapFromList(classes)}
}

// Triggers the type-checking process. It iterates class by class and then statement by
// statement, recursively calling the necessary helper based on the construct type.
func (tc *TypeChecker) Check() (bool, error) {
	if tc.program.Size() == 0 {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for _, class := range tc.program.Entries() {
		if _, err := tc.HandleClass(class); err != nil {
			return false, fmt.Errorf("error handling type check of class '%s': %w", class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the scope after processing

	tc.currentClass = class.Name

	for _, field := range class.Fields.Entries() {
		tc.scopes.RegisterVariable(field) // Fields don't need checking, just need to be in scope
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(subroutine); err != nil {
			return false, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the scope after processing

	prevReturn := tc.currentReturn
	tc.currentReturn = subroutine.Return
	defer func() { tc.currentReturn = prevReturn }()

	if subroutine.Type == Method {
		// Mirrors 'Lowerer.HandleSubroutine': every method implicitly receives the object
		// instance as its first argument (registered under the reserved name '__obj'), ahead of the subroutine's own parameters.
		tc.scopes.RegisterVariable(Variable{Name: "__obj", VarType: Parameter, DataType: DataType{Main: Object, Subtype: tc.currentClass}})
	}

	for _, arg := range subroutine.Arguments {
		// Like the Lowerer, we support shadowing: a duplicate name just overrides the
		// previous one in the current scope rather than being rejected outright.
		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statement types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return tc.HandleDoStmt(tStmt)
	case VarStmt:
		return tc.HandleVarStmt(tStmt)
	case LetStmt:
		return tc.HandleLetStmt(tStmt)
	case IfStmt:
		return tc.HandleIfStmt(tStmt)
	case WhileStmt:
		return tc.HandleWhileStmt(tStmt)
	case ReturnStmt:
		return tc.HandleReturnStmt(tStmt)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to type-check a 'jack.DoStmt'.
func (tc *TypeChecker) HandleDoStmt(statement DoStmt) (bool, error) {
	if _, err := tc.HandleFuncCallExpr(statement.FuncCall); err != nil {
		return false, fmt.Errorf("error handling nested function call expression: %w", err)
	}
	return true, nil
}

// Specialized function to type-check a 'jack.VarStmt'.
func (tc *TypeChecker) HandleVarStmt(statement VarStmt) (bool, error) {
	for _, variable := range statement.Vars {
		tc.scopes.RegisterVariable(variable)
	}
	return true, nil
}

// Specialized function to type-check a 'jack.LetStmt'.
func (tc *TypeChecker) HandleLetStmt(statement LetStmt) (bool, error) {
	rhsType, err := tc.HandleExpression(statement.Rhs)
	if err != nil {
		return false, fmt.Errorf("error handling RHS expression: %w", err)
	}

	switch lhs := statement.Lhs.(type) {
	case VarExpr:
		_, variable, err := tc.scopes.ResolveVariable(lhs.Var)
		if err != nil {
			return false, fmt.Errorf("error resolving variable '%s' in let statement: %w", lhs.Var, err)
		}
		if !typesCompatible(variable.DataType, rhsType) {
			return false, fmt.Errorf("cannot assign value of type '%s' to variable '%s' of type '%s'", rhsType.Main, lhs.Var, variable.DataType.Main)
		}
		return true, nil

	case ArrayExpr:
		if _, err := tc.HandleArrayExpr(lhs); err != nil {
			return false, fmt.Errorf("error handling LHS array expression: %w", err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}
}

// Specialized function to type-check a 'jack.WhileStmt'.
func (tc *TypeChecker) HandleWhileStmt(statement WhileStmt) (bool, error) {
	condType, err := tc.HandleExpression(statement.Condition)
	if err != nil {
		return false, fmt.Errorf("error handling while condition expression: %w", err)
	}
	if condType.Main != Bool {
		return false, fmt.Errorf("while condition must be of type 'bool', got '%s'", condType.Main)
	}

	for _, stmt := range statement.Block {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in while block: %w", err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.IfStmt'.
func (tc *TypeChecker) HandleIfStmt(statement IfStmt) (bool, error) {
	condType, err := tc.HandleExpression(statement.Condition)
	if err != nil {
		return false, fmt.Errorf("error handling if condition expression: %w", err)
	}
	if condType.Main != Bool {
		return false, fmt.Errorf("if condition must be of type 'bool', got '%s'", condType.Main)
	}

	for _, stmt := range statement.ThenBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in 'then' block: %w", err)
		}
	}
	for _, stmt := range statement.ElseBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in 'else' block: %w", err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.ReturnStmt'.
func (tc *TypeChecker) HandleReturnStmt(statement ReturnStmt) (bool, error) {
	if statement.Expr == nil {
		if tc.currentReturn.Main != Void {
			return false, fmt.Errorf("missing return value, subroutine declares return type '%s'", tc.currentReturn.Main)
		}
		return true, nil
	}

	exprType, err := tc.HandleExpression(statement.Expr)
	if err != nil {
		return false, fmt.Errorf("error handling return expression: %w", err)
	}

	if tc.currentReturn.Main == Void {
		return false, fmt.Errorf("subroutine declares no return value but a value of type '%s' was returned", exprType.Main)
	}
	if !typesCompatible(tc.currentReturn, exprType) {
		return false, fmt.Errorf("subroutine declares return type '%s' but a value of type '%s' was returned", tc.currentReturn.Main, exprType.Main)
	}

	return true, nil
}

// Generalized function to type-check multiple expression types, returns the resolved 'DataType'.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		return tc.HandleVarExpr(tExpr)
	case LiteralExpr:
		return tc.HandleLiteralExpr(tExpr)
	case ArrayExpr:
		return tc.HandleArrayExpr(tExpr)
	case UnaryExpr:
		return tc.HandleUnaryExpr(tExpr)
	case BinaryExpr:
		return tc.HandleBinaryExpr(tExpr)
	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)
	default:
		return DataType{}, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to type-check a 'jack.VarExpr'.
func (tc *TypeChecker) HandleVarExpr(expression VarExpr) (DataType, error) {
	if expression.Var == "this" {
		return DataType{Main: Object, Subtype: tc.currentClass}, nil
	}

	_, variable, err := tc.scopes.ResolveVariable(expression.Var)
	if err != nil {
		return DataType{}, fmt.Errorf("error resolving variable '%s': %w", expression.Var, err)
	}

	return variable.DataType, nil
}

// Specialized function to type-check a 'jack.LiteralExpr'.
func (tc *TypeChecker) HandleLiteralExpr(expression LiteralExpr) (DataType, error) {
	switch expression.Type.Main {
	case Int:
		if _, err := strconv.ParseUint(expression.Value, 10, 16); err != nil {
			return DataType{}, fmt.Errorf("error parsing integer literal '%s': %w", expression.Value, err)
		}
		return DataType{Main: Int}, nil

	case Bool:
		if _, err := strconv.ParseBool(expression.Value); err != nil {
			return DataType{}, fmt.Errorf("error parsing boolean literal '%s': %w", expression.Value, err)
		}
		return DataType{Main: Bool}, nil

	case Char:
		if len(expression.Value) != 1 {
			return DataType{}, fmt.Errorf("error parsing char literal '%s'", expression.Value)
		}
		return DataType{Main: Char}, nil

	case Object, Null:
		if expression.Value != "null" {
			return DataType{}, fmt.Errorf("object literal are not supported '%s'", expression.Value)
		}
		return DataType{Main: Null}, nil

	case String:
		return DataType{Main: Object, Subtype: "String"}, nil

	default:
		return DataType{}, fmt.Errorf("unrecognized literal expression type: %s", expression.Type.Main)
	}
}

// Specialized function to type-check a 'jack.ArrayExpr'.
func (tc *TypeChecker) HandleArrayExpr(expression ArrayExpr) (DataType, error) {
	baseType, err := tc.HandleVarExpr(VarExpr{Var: expression.Var})
	if err != nil {
		return DataType{}, fmt.Errorf("error handling base variable expression: %w", err)
	}
	if baseType.Main != Object || baseType.Subtype != "Array" {
		return DataType{}, fmt.Errorf("variable '%s' is not an 'Array', got '%s'", expression.Var, baseType.Main)
	}

	indexType, err := tc.HandleExpression(expression.Index)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling index expression: %w", err)
	}
	if indexType.Main != Int {
		return DataType{}, fmt.Errorf("array index must be of type 'int', got '%s'", indexType.Main)
	}

	// Jack arrays are weakly typed: every cell is a single untyped word, so an access always
	// yields 'int' and it's up to the surrounding expression to reinterpret it if needed.
	return DataType{Main: Int}, nil
}

// Specialized function to type-check a 'jack.UnaryExpr'.
func (tc *TypeChecker) HandleUnaryExpr(expression UnaryExpr) (DataType, error) {
	rhsType, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested expression: %w", err)
	}

	switch expression.Type {
	case Negation:
		if rhsType.Main != Int {
			return DataType{}, fmt.Errorf("unary '-' expects an 'int' operand, got '%s'", rhsType.Main)
		}
		return DataType{Main: Int}, nil

	case BoolNot:
		if rhsType.Main != Bool {
			return DataType{}, fmt.Errorf("unary '~' expects a 'bool' operand, got '%s'", rhsType.Main)
		}
		return DataType{Main: Bool}, nil

	default:
		return DataType{}, fmt.Errorf("unrecognized unary expression type: %s", expression.Type)
	}
}

// Specialized function to type-check a 'jack.BinaryExpr'.
func (tc *TypeChecker) HandleBinaryExpr(expression BinaryExpr) (DataType, error) {
	lhsType, err := tc.HandleExpression(expression.Lhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested LHS expression: %w", err)
	}
	rhsType, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested RHS expression: %w", err)
	}

	switch expression.Type {
	case Plus, Minus, Divide, Multiply:
		if lhsType.Main != Int || rhsType.Main != Int {
			return DataType{}, fmt.Errorf("operator '%s' expects 'int' operands, got '%s' and '%s'", expression.Type, lhsType.Main, rhsType.Main)
		}
		return DataType{Main: Int}, nil

	case BoolOr, BoolAnd:
		if lhsType.Main != Bool || rhsType.Main != Bool {
			return DataType{}, fmt.Errorf("operator '%s' expects 'bool' operands, got '%s' and '%s'", expression.Type, lhsType.Main, rhsType.Main)
		}
		return DataType{Main: Bool}, nil

	case Equal:
		if !typesCompatible(lhsType, rhsType) && !typesCompatible(rhsType, lhsType) {
			return DataType{}, fmt.Errorf("cannot compare incompatible types '%s' and '%s'", lhsType.Main, rhsType.Main)
		}
		return DataType{Main: Bool}, nil

	case LessThan, GreatThan:
		if lhsType.Main != Int || rhsType.Main != Int {
			return DataType{}, fmt.Errorf("operator '%s' expects 'int' operands, got '%s' and '%s'", expression.Type, lhsType.Main, rhsType.Main)
		}
		return DataType{Main: Bool}, nil

	default:
		return DataType{}, fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// Specialized function to type-check a 'jack.FuncCallExpr'.
func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr) (DataType, error) {
	if !expression.IsExtCall {
		// Instance-to-instance call: the target subroutine must be declared in the current class.
		class, exists := tc.resolveClass(tc.currentClass)
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", tc.currentClass)
		}

		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, tc.currentClass)
		}

		if err := tc.checkArguments(expression.FuncName, routine.Arguments, expression.Arguments); err != nil {
			return DataType{}, err
		}

		return routine.Return, nil
	}

	// Calling through a variable: 'v.method(...)' where 'v' is a known object instance.
	if _, variable, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType.Main != Object {
			return DataType{}, fmt.Errorf("variable '%s' is not an object, cannot call '%s' on it", expression.Var, expression.FuncName)
		}

		class, exists := tc.resolveClass(variable.DataType.Subtype)
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", variable.DataType.Subtype)
		}

		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
		}
		if routine.Type != Method {
			return DataType{}, fmt.Errorf("'%s.%s' is not a method, cannot be called on an instance", class.Name, expression.FuncName)
		}

		if err := tc.checkArguments(expression.FuncName, routine.Arguments, expression.Arguments); err != nil {
			return DataType{}, err
		}

		return routine.Return, nil
	}

	// Calling through a class name: 'Class.func(...)', either a static function or a constructor.
	if class, exists := tc.resolveClass(expression.Var); exists {
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
		}

		if routine.Type != Function && routine.Type != Constructor {
			return DataType{}, fmt.Errorf("'%s.%s' is a %s, cannot be called via class qualifier", class.Name, expression.FuncName, routine.Type)
		}

		if err := tc.checkArguments(expression.FuncName, routine.Arguments, expression.Arguments); err != nil {
			return DataType{}, err
		}

		if routine.Type == Constructor {
			return DataType{Main: Object, Subtype: class.Name}, nil
		}
		return routine.Return, nil
	}

	return DataType{}, fmt.Errorf("unrecognized function call expression: %s", expression.FuncName)
}

// resolveClass looks up a class definition first in the program being checked and then, as a
// fallback, in the embedded standard library ABI (so calls into 'Math', 'Output', ... resolve
// even when the program under test doesn't define them itself).
func (tc *TypeChecker) resolveClass(name string) (Class, bool) {
	if class, exists := tc.program.Get(name); exists {
		return class, true
	}
	if class, exists := StandardLibraryABI[name]; exists {
		return class, true
	}
	return Class{}, false
}

// checkArguments validates both the arity and the per-position type compatibility of a call.
func (tc *TypeChecker) checkArguments(subroutineName string, params []Variable, args []Expression) error {
	if len(params) != len(args) {
		return fmt.Errorf("'%s' expects %d argument(s), got %d", subroutineName, len(params), len(args))
	}

	for i, arg := range args {
		argType, err := tc.HandleExpression(arg)
		if err != nil {
			return fmt.Errorf("error handling argument %d of '%s': %w", i, subroutineName, err)
		}
		if !typesCompatible(params[i].DataType, argType) {
			return fmt.Errorf("argument %d of '%s' expects type '%s', got '%s'", i, subroutineName, params[i].DataType.Main, argType.Main)
		}
	}

	return nil
}

// typesCompatible reports whether a value of type 'got' may be used where 'want' is expected.
// 'null' is compatible with any object/array/string typed slot, and an object-typed slot with
// no declared subtype (e.g. 'Memory.deAlloc's untyped parameter) accepts any object reference.
func typesCompatible(want, got DataType) bool {
	if want.Main == got.Main && want.Subtype == got.Subtype {
		return true
	}
	if want.Main == Object && got.Main == Null {
		return true
	}
	if want.Main == Object && got.Main == Object && (want.Subtype == "" || got.Subtype == "") {
		return true
	}
	return false
}
